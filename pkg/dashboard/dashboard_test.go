package dashboard_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/nais/armordash/pkg/dashboard"
	"github.com/nais/armordash/pkg/grid"
	"github.com/nais/armordash/pkg/source"
)

const (
	project = "plattformsikkerhet-dev-496e"
	polA    = `[{"name":"PolA","description":"desc","fingerprint":"fp1","type":"iam",` +
		`"creation_timestamp":"2024-01-01T00:00:00Z","rules":"allow *"}]`
	timeout  = 5 * time.Second
	interval = 50 * time.Millisecond
)

var footer = dashboard.Footer{Label: "naas.nais.io", URL: "https://naas.nais.io/"}

type backend struct {
	srv    *httptest.Server
	mu     sync.Mutex
	status int
	body   string
	hits   int32
}

func newBackend(status int, body string) *backend {
	b := &backend{status: status, body: body}
	b.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&b.hits, 1)
		b.mu.Lock()
		status, body := b.status, b.body
		b.mu.Unlock()
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	return b
}

func (b *backend) set(status int, body string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.status, b.body = status, body
}

func (b *backend) Hits() int32 {
	return atomic.LoadInt32(&b.hits)
}

func policies(n int) string {
	recs := make([]string, n)
	for i := range recs {
		recs[i] = fmt.Sprintf(`{"name":"policy-%d","description":"d%d","fingerprint":"fp-%d","type":"CLOUD_ARMOR",`+
			`"creation_timestamp":"2024-01-0%dT00:00:00Z","rules":"%d rules"}`, i, i, i, i+1, i)
	}
	return "[" + strings.Join(recs, ",") + "]"
}

func newDashboard(b *backend, opts dashboard.Options) *dashboard.Dashboard {
	client, err := source.New(source.Config{BackendURL: b.srv.URL, Project: project})
	Expect(err).ShouldNot(HaveOccurred())
	return dashboard.New(client, opts, GinkgoLogr)
}

func settle(d *dashboard.Dashboard) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	Expect(d.View().Wait(ctx)).To(Succeed())
}

func do(h http.Handler, method, target string, form url.Values) *httptest.ResponseRecorder {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req := httptest.NewRequest(method, target, body)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

type gridJSON struct {
	State    string `json:"state"`
	InFlight bool   `json:"inFlight"`
	Columns  []struct {
		Field  string `json:"field"`
		Header string `json:"header"`
	} `json:"columns"`
	Rows []struct {
		Key    string            `json:"key"`
		Record map[string]string `json:"record"`
	} `json:"rows"`
	Selected []string `json:"selected"`
	Error    *struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
	} `json:"error"`
}

func getGrid(h http.Handler) gridJSON {
	rec := do(h, http.MethodGet, "/api/grid", nil)
	Expect(rec.Code).To(Equal(http.StatusOK))
	var g gridJSON
	Expect(json.NewDecoder(rec.Body).Decode(&g)).To(Succeed())
	return g
}

var headers = []string{"Policy Name", "Description", "Fingerprint", "Policy Type", "Creation", "Rules"}

var _ = Describe("Dashboard", func() {
	var (
		b      *backend
		d      *dashboard.Dashboard
		h      http.Handler
		ctx    context.Context
		cancel context.CancelFunc
		body   string
	)

	mount := func() {
		d = newDashboard(b, dashboard.Options{Footer: footer})
		h = d.Handler()
		ctx, cancel = context.WithCancel(context.Background())
		Expect(d.Mount(ctx)).To(Succeed())
		settle(d)
	}

	BeforeEach(func() {
		b = newBackend(http.StatusOK, polA)
	})

	AfterEach(func() {
		if d != nil {
			d.Unmount()
		}
		if cancel != nil {
			cancel()
		}
		b.srv.Close()
	})

	When("the backend returns one policy", func() {
		BeforeEach(func() {
			mount()
			rec := do(h, http.MethodGet, "/", nil)
			Expect(rec.Code).To(Equal(http.StatusOK))
			body = rec.Body.String()
		})

		It("renders exactly one row under the column headers", func() {
			for _, header := range headers {
				Expect(body).To(ContainSubstring(">" + header + "<"))
			}
			Expect(strings.Count(body, "data-key=")).To(Equal(1))
			Expect(body).To(ContainSubstring(`data-key="fp1"`))
			for _, value := range []string{"PolA", "desc", "fp1", "iam", "2024-01-01T00:00:00Z", "allow *"} {
				Expect(body).To(ContainSubstring("<td>" + value + "</td>"))
			}
		})

		It("renders the footer link", func() {
			Expect(body).To(ContainSubstring(`<a class="footer text-dark" href="https://naas.nais.io/">naas.nais.io</a>`))
		})

		It("renders identically when nothing changed", func() {
			again := do(h, http.MethodGet, "/", nil).Body.String()
			Expect(again).To(Equal(body))
		})

		It("serves the grid fragment without the page shell", func() {
			fragment := do(h, http.MethodGet, "/grid", nil).Body.String()
			Expect(fragment).To(ContainSubstring(`data-key="fp1"`))
			Expect(fragment).NotTo(ContainSubstring("<html"))
		})

		It("reports the grid as JSON", func() {
			g := getGrid(h)
			Expect(g.State).To(Equal("populated"))
			Expect(g.InFlight).To(BeFalse())
			Expect(g.Columns).To(HaveLen(6))
			Expect(g.Rows).To(HaveLen(1))
			Expect(g.Rows[0].Record).To(HaveKeyWithValue("creation_timestamp", "2024-01-01T00:00:00Z"))
			Expect(g.Selected).To(BeEmpty())
			Expect(g.Error).To(BeNil())
		})

		It("fetches exactly once", func() {
			do(h, http.MethodGet, "/", nil)
			do(h, http.MethodGet, "/api/grid", nil)
			Expect(b.Hits()).To(Equal(int32(1)))
		})

		It("refuses to retry a populated grid", func() {
			Expect(do(h, http.MethodPost, "/retry", nil).Code).To(Equal(http.StatusConflict))
		})

		It("keeps the sort across a refresh", func() {
			rec := do(h, http.MethodPost, "/refresh", url.Values{"sort": {"type"}, "desc": {"true"}})
			Expect(rec.Code).To(Equal(http.StatusSeeOther))
			Expect(rec.Header().Get("Location")).To(Equal("/?desc=true&sort=type"))

			page := do(h, http.MethodGet, "/?sort=type&desc=true", nil).Body.String()
			Expect(page).To(ContainSubstring(`action="/refresh"><input type="hidden" name="sort" value="type">`))
		})

		It("remounts on a new data source", func() {
			other := newBackend(http.StatusOK, policies(2))
			defer other.srv.Close()
			client, err := source.New(source.Config{BackendURL: other.srv.URL, Project: project})
			Expect(err).ShouldNot(HaveOccurred())

			old := d.View()
			Expect(d.SetFetcher(client)).To(Succeed())
			Expect(d.View()).NotTo(BeIdenticalTo(old))
			Expect(old.Rows()).To(BeEmpty())

			settle(d)
			Expect(other.Hits()).To(Equal(int32(1)))
			Expect(b.Hits()).To(Equal(int32(1)))
			g := getGrid(h)
			Expect(g.State).To(Equal("populated"))
			Expect(g.Rows).To(HaveLen(2))
			Expect(g.Rows[0].Key).To(Equal("fp-0"))
		})

		It("fetches again on refresh", func() {
			rec := do(h, http.MethodPost, "/refresh", nil)
			Expect(rec.Code).To(Equal(http.StatusSeeOther))
			Eventually(b.Hits, timeout, interval).Should(Equal(int32(2)))
			settle(d)
			Expect(getGrid(h).Rows).To(HaveLen(1))
		})
	})

	When("the backend returns an empty list", func() {
		BeforeEach(func() {
			b.set(http.StatusOK, "[]")
			mount()
			body = do(h, http.MethodGet, "/", nil).Body.String()
		})

		It("renders the headers and no data rows", func() {
			for _, header := range headers {
				Expect(body).To(ContainSubstring(">" + header + "<"))
			}
			Expect(body).NotTo(ContainSubstring("data-key="))
			Expect(body).To(ContainSubstring("No policies"))
			Expect(getGrid(h).State).To(Equal("populated"))
		})
	})

	When("policies lack fields", func() {
		BeforeEach(func() {
			b.set(http.StatusOK, `[{"name":"only-name"}]`)
			mount()
			body = do(h, http.MethodGet, "/", nil).Body.String()
		})

		It("renders the missing cells blank", func() {
			Expect(body).To(ContainSubstring("<td>only-name</td>"))
			Expect(strings.Count(body, "<td></td>")).To(Equal(5))
			Expect(body).To(ContainSubstring(`data-key="0"`))
		})
	})

	When("the backend returns five policies", func() {
		BeforeEach(func() {
			b.set(http.StatusOK, policies(5))
			mount()
		})

		It("selects exactly the checked rows", func() {
			rec := do(h, http.MethodPost, "/selection", url.Values{"row": {"fp-3", "fp-1"}})
			Expect(rec.Code).To(Equal(http.StatusSeeOther))
			Expect(rec.Header().Get("Location")).To(Equal("/"))

			selected := d.View().Selected()
			Expect(selected).To(HaveLen(2))
			Expect(selected[0].Key).To(Equal("fp-1"))
			Expect(selected[1].Key).To(Equal("fp-3"))

			g := getGrid(h)
			Expect(g.Selected).To(Equal([]string{"fp-1", "fp-3"}))
			Expect(g.Rows).To(HaveLen(5))

			page := do(h, http.MethodGet, "/", nil).Body.String()
			Expect(strings.Count(page, " checked>")).To(Equal(2))
		})

		It("keeps the sort across a selection update", func() {
			rec := do(h, http.MethodPost, "/selection", url.Values{"row": {"fp-0"}, "sort": {"name"}, "desc": {"true"}})
			Expect(rec.Code).To(Equal(http.StatusSeeOther))
			Expect(rec.Header().Get("Location")).To(Equal("/?desc=true&sort=name"))
		})

		It("clears the selection when nothing is checked", func() {
			Expect(d.View().Select("fp-2")).To(Succeed())
			rec := do(h, http.MethodPost, "/selection", url.Values{})
			Expect(rec.Code).To(Equal(http.StatusSeeOther))
			Expect(d.View().Selected()).To(BeEmpty())
		})

		It("rejects unknown rows", func() {
			rec := do(h, http.MethodPost, "/selection", url.Values{"row": {"fp-9"}})
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(d.View().Selected()).To(BeEmpty())
		})

		It("sorts by a column when its header is clicked", func() {
			page := do(h, http.MethodGet, "/?sort=name&desc=true", nil).Body.String()
			Expect(strings.Index(page, "policy-4")).To(BeNumerically("<", strings.Index(page, "policy-0")))
			Expect(page).To(ContainSubstring("▼"))

			page = do(h, http.MethodGet, "/?sort=name", nil).Body.String()
			Expect(strings.Index(page, "policy-0")).To(BeNumerically("<", strings.Index(page, "policy-4")))
			Expect(page).To(ContainSubstring(`href="/?desc=true&amp;sort=name"`))
		})

		It("rejects unknown sort columns", func() {
			Expect(do(h, http.MethodGet, "/?sort=id", nil).Code).To(Equal(http.StatusBadRequest))
		})
	})

	When("the backend fails", func() {
		BeforeEach(func() {
			b.set(http.StatusInternalServerError, "cant get polices for project")
			mount()
		})

		It("shows the error with a retry control", func() {
			page := do(h, http.MethodGet, "/", nil).Body.String()
			Expect(page).To(ContainSubstring(`role="alert"`))
			Expect(page).To(ContainSubstring(`data-kind="HttpStatusFailure"`))
			Expect(page).To(ContainSubstring("The policy service answered with status 500."))
			Expect(page).To(ContainSubstring(`action="/retry"`))
			for _, header := range headers {
				Expect(page).To(ContainSubstring(">" + header + "<"))
			}

			g := getGrid(h)
			Expect(g.State).To(Equal("error"))
			Expect(g.Error).NotTo(BeNil())
			Expect(g.Error.Kind).To(Equal("HttpStatusFailure"))
		})

		It("keeps the sort across a retry", func() {
			page := do(h, http.MethodGet, "/?sort=name", nil).Body.String()
			Expect(page).To(ContainSubstring(`action="/retry"><input type="hidden" name="sort" value="name">`))

			b.set(http.StatusOK, polA)
			rec := do(h, http.MethodPost, "/retry", url.Values{"sort": {"name"}, "desc": {"true"}})
			Expect(rec.Code).To(Equal(http.StatusSeeOther))
			Expect(rec.Header().Get("Location")).To(Equal("/?desc=true&sort=name"))
			settle(d)
		})

		It("recovers on a manual retry", func() {
			b.set(http.StatusOK, polA)
			rec := do(h, http.MethodPost, "/retry", nil)
			Expect(rec.Code).To(Equal(http.StatusSeeOther))
			Eventually(func() string { return getGrid(h).State }, timeout, interval).Should(Equal("populated"))
			Expect(getGrid(h).Rows).To(HaveLen(1))
			Expect(b.Hits()).To(Equal(int32(2)))
		})
	})

	When("the backend is unreachable", func() {
		BeforeEach(func() {
			b.srv.Close()
			mount()
		})

		It("reports a network failure", func() {
			g := getGrid(h)
			Expect(g.State).To(Equal("error"))
			Expect(g.Error.Kind).To(Equal("NetworkFailure"))
			Expect(do(h, http.MethodGet, "/", nil).Body.String()).To(ContainSubstring("could not be reached"))
		})
	})

	When("the backend returns garbage", func() {
		BeforeEach(func() {
			b.set(http.StatusOK, "<html>oops</html>")
			mount()
		})

		It("reports a decode failure", func() {
			g := getGrid(h)
			Expect(g.State).To(Equal(grid.StateError.String()))
			Expect(g.Error.Kind).To(Equal("DecodeFailure"))
		})
	})

	Context("health endpoints", func() {
		It("is alive and not ready before serving", func() {
			d = newDashboard(b, dashboard.Options{})
			h = d.Handler()
			Expect(do(h, http.MethodGet, dashboard.EndpointIsAlive, nil).Body.String()).To(Equal("alive"))
			Expect(do(h, http.MethodGet, dashboard.EndpointIsReady, nil).Body.String()).To(MatchJSON(`{"ready":false}`))
			Expect(do(h, http.MethodGet, "/", nil).Code).To(Equal(http.StatusServiceUnavailable))
		})
	})

	Context("serving on a unix socket", func() {
		var (
			sockpath string
			served   chan error
		)

		BeforeEach(func() {
			sockdir, err := os.MkdirTemp("", "armordash")
			Expect(err).ShouldNot(HaveOccurred())
			DeferCleanup(os.RemoveAll, sockdir)
			sockpath = filepath.Join(sockdir, "armordash.sock")

			d = newDashboard(b, dashboard.Options{
				Listen:    "unix:" + sockpath,
				SocketUID: os.Getuid(),
				SocketGID: os.Getgid(),
				Footer:    footer,
			})
			ctx, cancel = context.WithCancel(context.Background())
			Expect(d.Mount(ctx)).To(Succeed())
			ln, err := d.Listen()
			Expect(err).ShouldNot(HaveOccurred())
			served = make(chan error, 1)
			go func() {
				defer GinkgoRecover()
				served <- d.Serve(ctx, ln)
			}()
		})

		It("serves the dashboard with restricted socket permissions", func() {
			httpc := &http.Client{
				Transport: &http.Transport{
					DialContext: func(_ context.Context, _, _ string) (net.Conn, error) {
						return net.Dial("unix", sockpath)
					},
				},
			}

			Eventually(func() (map[string]bool, error) {
				resp, err := httpc.Get("http://unix" + dashboard.EndpointIsReady)
				if err != nil {
					return nil, err
				}
				defer resp.Body.Close()
				var status map[string]bool
				err = json.NewDecoder(resp.Body).Decode(&status)
				return status, err
			}, timeout, interval).Should(HaveKeyWithValue("ready", true))

			fi, err := os.Stat(sockpath)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(fi.Mode() & os.ModeSocket).NotTo(BeZero())
			Expect(fi.Mode().Perm()).To(Equal(os.FileMode(0o660)))

			settle(d)
			resp, err := httpc.Get("http://unix/")
			Expect(err).ShouldNot(HaveOccurred())
			defer resp.Body.Close()
			page, err := io.ReadAll(resp.Body)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(string(page)).To(ContainSubstring(`data-key="fp1"`))

			cancel()
			Eventually(served, timeout).Should(Receive(BeNil()))
			Expect(d.Ready()).To(BeFalse())
		})
	})
})
