package e2e

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	//nolint:staticcheck
	. "github.com/onsi/ginkgo/v2"
	//nolint:staticcheck
	. "github.com/onsi/gomega"
)

var (
	armordashBin string
	sockPath     string
	server       *exec.Cmd
	backend      *fakeBackend
)

const (
	// timeout for armordash to report it's ready
	armordashReadyTimeout = 30 * time.Second
	// default time to wait for armordash do an operation
	armordashTimeout = 20 * time.Second
	// default interval between operations
	defaultInterval = 500 * time.Millisecond
	project         = "plattformsikkerhet-dev-496e"
)

func initVars() {
	armordashBin = os.Getenv("ARMORDASH_BIN")
}

type fakeBackend struct {
	*httptest.Server
	mu     sync.Mutex
	status int
	body   string
}

func newFakeBackend() *fakeBackend {
	b := &fakeBackend{status: http.StatusOK, body: "[]"}
	b.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/projects/"+project+"/policies" {
			http.NotFound(w, r)
			return
		}
		b.mu.Lock()
		defer b.mu.Unlock()
		w.WriteHeader(b.status)
		_, _ = io.WriteString(w, b.body)
	}))
	return b
}

func (b *fakeBackend) serve(status int, body string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.status, b.body = status, body
}

func armordashEnv() []string {
	return append(os.Environ(),
		"ARMORDASH_BACKEND_URL="+backend.URL,
		"ARMORDASH_PROJECT="+project,
	)
}

func run(args ...string) (string, error) {
	execcmd := exec.Command(armordashBin, args...)
	execcmd.Env = armordashEnv()
	output, err := execcmd.CombinedOutput()
	return strings.Trim(string(output), "\n"), err
}

func armordashctl(args ...string) string {
	output, err := run(args...)
	Expect(err).ShouldNot(HaveOccurred(),
		"The command 'armordash' shouldn't fail.\n- Arguments: %v\n- Output: %s", args, output)
	return output
}

func startServer() {
	By(fmt.Sprintf("Starting armordash on %s", sockPath))
	server = exec.Command(armordashBin, "serve", "--listen", "unix:"+sockPath)
	server.Env = armordashEnv()
	server.Stdout = GinkgoWriter
	server.Stderr = GinkgoWriter
	Expect(server.Start()).To(Succeed())
}

func stopServer() {
	if server == nil || server.Process == nil {
		return
	}
	By("Stopping armordash")
	_ = server.Process.Signal(os.Interrupt)
	_ = server.Wait()
}

func waitForArmordashToBeReady() {
	Eventually(func() (string, error) {
		return run("is-ready", "--address", "unix:"+sockPath)
	}, armordashReadyTimeout, defaultInterval).Should(Equal("yes"))
}

func socketClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext: func(_ context.Context, _, _ string) (net.Conn, error) {
				return net.Dial("unix", sockPath)
			},
		},
	}
}

// Wrapper for Gomega's Eventually function. Targeted at checking
// that the dashboard page will eventually show a certain content.
func pageEventually() AsyncAssertion {
	return Eventually(func() (string, error) {
		resp, err := socketClient().Get("http://unix/")
		if err != nil {
			return "", err
		}
		defer resp.Body.Close()
		page, err := io.ReadAll(resp.Body)
		return string(page), err
	}, armordashTimeout, defaultInterval)
}

func refresh() {
	resp, err := socketClient().Post("http://unix/refresh", "application/x-www-form-urlencoded", nil)
	Expect(err).ShouldNot(HaveOccurred())
	resp.Body.Close()
}
