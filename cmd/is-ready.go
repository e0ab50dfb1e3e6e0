/*
Copyright © 2020 Red Hat, Inc.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/nais/armordash/pkg/config"
	"github.com/nais/armordash/pkg/dashboard"
)

const addressFlag = "address"

// isreadyCmd represents the is-ready command
var isreadyCmd = &cobra.Command{
	Use:   "is-ready",
	Args:  cobra.NoArgs,
	Short: "probe ready endpoint",
	Long:  `Tells whether the dashboard is ready or not.`,
	Run:   isreadyCmdFunc,
}

//nolint:gochecknoinits
func init() {
	rootCmd.AddCommand(isreadyCmd)
	defineIsReadyFlags(isreadyCmd)
}

func defineIsReadyFlags(rootCmd *cobra.Command) {
	rootCmd.Flags().String(addressFlag, config.DefaultListen, "the address the dashboard is listening at, host:port or unix:/path/to/socket")
}

func readyURL(address string) (*http.Client, string) {
	if path, ok := dashboard.SocketPath(address); ok {
		return getHTTPClient(path), baseStatusServerURL + dashboard.EndpointIsReady
	}
	return &http.Client{}, "http://" + address + dashboard.EndpointIsReady
}

func isreadyCmdFunc(rootCmd *cobra.Command, _ []string) {
	address, err := rootCmd.Flags().GetString(addressFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Parsing flags: %s", err)
		syscall.Exit(1)
	}

	httpc, readyurl := readyURL(address)

	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, readyurl, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Forming ready query: %s", err)
		syscall.Exit(1)
	}

	response, err := httpc.Do(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Querying ready endpoint: %s", err)
		syscall.Exit(1)
	}
	defer response.Body.Close()

	var status map[string]bool
	err = json.NewDecoder(response.Body).Decode(&status)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Decoding ready endpoint response: %s", err)
		syscall.Exit(1)
	}

	if status["ready"] {
		color.New(color.FgGreen).Fprint(os.Stdout, "yes")
	} else {
		color.New(color.FgRed).Fprint(os.Stdout, "no")
	}
}
