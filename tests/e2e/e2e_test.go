package e2e

import (
	"encoding/json"
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

const twoPolicies = `[
{"name":"allow-office","description":"Office IPs","fingerprint":"fp-office","type":"CLOUD_ARMOR",
 "creation_timestamp":"2024-01-02T00:00:00Z","rules":[{"priority":1000}]},
{"name":"deny-all","description":"","fingerprint":"fp-deny","type":"CLOUD_ARMOR",
 "creation_timestamp":"2024-01-01T00:00:00Z","rules":"2147483647"}
]`

var _ = Describe("E2e", func() {
	When("armordash is ready", func() {
		BeforeEach(waitForArmordashToBeReady)

		AfterEach(func() {
			backend.serve(http.StatusOK, "[]")
		})

		It("Lists the project's policies", func() {
			backend.serve(http.StatusOK, twoPolicies)

			var policies []map[string]string
			output := armordashctl("list", "--sort", "name", "--desc", "-o", "json")
			Expect(json.Unmarshal([]byte(output), &policies)).To(Succeed())
			Expect(policies).To(HaveLen(2))
			Expect(policies[0]).To(HaveKeyWithValue("name", "deny-all"))
			Expect(policies[1]).To(HaveKeyWithValue("rules", `[{"priority":1000}]`))
		})

		It("Fails listing when the backend fails", func() {
			backend.serve(http.StatusInternalServerError, "cant get polices for project")

			output, err := run("list")
			Expect(err).Should(HaveOccurred())
			Expect(output).To(ContainSubstring("error"))
		})

		It("Shows the policies after a reload", func() {
			backend.serve(http.StatusOK, twoPolicies)

			By("Reloading the dashboard")
			refresh()

			By("Waiting for the rows to show")
			pageEventually().Should(And(
				ContainSubstring(`data-key="fp-office"`),
				ContainSubstring(`data-key="fp-deny"`),
			))
		})

		It("Shows an error after a reload against a failing backend", func() {
			backend.serve(http.StatusBadGateway, "")

			By("Reloading the dashboard")
			refresh()

			By("Waiting for the error to show")
			pageEventually().Should(And(
				ContainSubstring(`role="alert"`),
				ContainSubstring("status 502"),
			))
		})
	})
})
