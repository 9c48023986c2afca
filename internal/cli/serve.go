package cli

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/Dicklesworthstone/dappcheck/internal/intercept"
	"github.com/Dicklesworthstone/dappcheck/internal/mockapi"
	"github.com/Dicklesworthstone/dappcheck/internal/ontora"
	"github.com/Dicklesworthstone/dappcheck/internal/scenario"
)

func newServeCmd(g *globalFlags) *cobra.Command {
	var (
		addr     string
		failures []string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the mock Ontora backend",
		Long: `Serve the canned governance and deployment endpoints over HTTP so a
local DApp build can be exercised by hand. Rules can be added at runtime
with POST /__dappcheck/rules and exchanges are streamed from
/__dappcheck/events.

--fail registers the failure variant of an endpoint instead of the
success one. Accepted values: proposal, vote, deploy.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			overrides := map[string]any{}
			if cmd.Flags().Changed("addr") {
				overrides["mockapi.addr"] = addr
			}
			cfg, err := g.loadConfig(overrides)
			if err != nil {
				return err
			}
			logger := newLogger(cfg, cmd.ErrOrStderr(), "dappcheck")

			layer := intercept.New()
			for _, ic := range ontora.DefaultIntercepts() {
				ic.Register(layer)
			}
			for _, name := range failures {
				ic, err := failureIntercept(name)
				if err != nil {
					return err
				}
				ic.Register(layer)
			}

			srv := mockapi.New(layer, logger)
			ready := make(chan string, 1)
			go func() {
				if bound, ok := <-ready; ok {
					fmt.Fprintf(cmd.OutOrStdout(), "mock api on http://%s (health: /health, events: ws://%s%s/events)\n",
						bound, bound, mockapi.ControlPrefix)
				}
			}()
			return srv.ListenAndServe(cmd.Context(), cfg.MockAPI.Addr, ready)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from mockapi.addr)")
	cmd.Flags().StringSliceVar(&failures, "fail", nil, "endpoints answering with their failure response")
	return cmd
}

func failureIntercept(name string) (scenario.InterceptSpec, error) {
	switch name {
	case "proposal":
		return ontora.FailureIntercept(ontora.AliasCreateProposal, ontora.EndpointProposal,
			http.StatusBadRequest, "Invalid proposal data"), nil
	case "vote":
		return ontora.FailureIntercept(ontora.AliasSubmitVote, ontora.EndpointVote,
			http.StatusBadRequest, "Invalid vote"), nil
	case "deploy":
		return ontora.FailureIntercept(ontora.AliasDeployAgent, ontora.EndpointDeploy,
			http.StatusInternalServerError, "Deployment failed due to server error"), nil
	default:
		return scenario.InterceptSpec{}, fmt.Errorf("unknown --fail endpoint %q (want proposal, vote or deploy)", name)
	}
}
