// Package ontora holds everything dappcheck knows about the Ontora AI
// front-end: its markup contract, fixtures and the scenario catalogue.
package ontora

import (
	"fmt"
	"net/http"

	"github.com/Dicklesworthstone/dappcheck/internal/browser"
	"github.com/Dicklesworthstone/dappcheck/internal/observer"
	"github.com/Dicklesworthstone/dappcheck/internal/scenario"
	"github.com/Dicklesworthstone/dappcheck/internal/wallet"
)

// Handle aliases of the default intercepts.
const (
	AliasCreateProposal = "createProposal"
	AliasSubmitVote     = "submitVote"
	AliasDeployAgent    = "deployAgent"
)

// Values returned by the default intercepts.
const (
	MockProposalID = "prop456"
	MockVoteID     = "vote789"
	MockAgentID    = "agent123"
)

// DefaultIntercepts answers every endpoint the front-end calls with success.
func DefaultIntercepts() []scenario.InterceptSpec {
	return []scenario.InterceptSpec{
		{
			Alias:  AliasCreateProposal,
			Method: http.MethodPost,
			Path:   EndpointProposal,
			Status: http.StatusOK,
			Body:   map[string]any{"proposalId": MockProposalID, "title": "Test Proposal", "status": "Draft"},
		},
		{
			Alias:  AliasSubmitVote,
			Method: http.MethodPost,
			Path:   EndpointVote,
			Status: http.StatusOK,
			Body:   map[string]any{"voteId": MockVoteID, "choice": "Yes"},
		},
		{
			Alias:  AliasDeployAgent,
			Method: http.MethodPost,
			Path:   EndpointDeploy,
			Status: http.StatusOK,
			Body:   map[string]any{"agentId": MockAgentID, "status": "Deployed"},
		},
	}
}

// FailureIntercept answers endpoint with {statusCode, error}.
func FailureIntercept(alias, endpoint string, status int, msg string) scenario.InterceptSpec {
	return scenario.InterceptSpec{
		Alias:  alias,
		Method: http.MethodPost,
		Path:   endpoint,
		Status: status,
		Body:   map[string]any{"statusCode": status, "error": msg},
	}
}

func byID(id string) browser.Target { return browser.ByTestID(id) }

func field(tag, name string) browser.Target {
	return browser.BySelector(fmt.Sprintf("%s[name=%q]", tag, name))
}

func steps(groups ...[]scenario.Step) []scenario.Step {
	var out []scenario.Step
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

func one(s ...scenario.Step) []scenario.Step { return s }

func visitHome() []scenario.Step { return one(scenario.Visit(RouteHome)) }

func connectWallet() []scenario.Step {
	return one(
		scenario.Click(byID(TestIDConnectWallet)),
		scenario.Assert(observer.Contains(SelectorWalletStatus, TextConnected)),
	)
}

func gotoGovernance() []scenario.Step {
	return one(
		scenario.Click(byID(TestIDNavGovernance)),
		scenario.Assert(observer.URLIncludes(RouteGovernance)),
	)
}

func gotoDeploy() []scenario.Step {
	return one(
		scenario.Click(byID(TestIDNavDeployAgent)),
		scenario.Assert(observer.URLIncludes(RouteDeployAgent)),
	)
}

func gotoDashboard() []scenario.Step {
	return one(
		scenario.Click(byID(TestIDNavDashboard)),
		scenario.Assert(observer.URLIncludes(RouteDashboard)),
	)
}

func fillProposal(title, description string) []scenario.Step {
	return one(
		scenario.Click(byID(TestIDCreateProposal)),
		scenario.Type(field("input", FieldTitle), title),
		scenario.Type(field("textarea", FieldDescription), description),
		scenario.Click(byID(TestIDSubmitProposal)),
	)
}

func voteFirst(choice string) []scenario.Step {
	return one(
		scenario.Click(byID(TestIDVote).In(browser.BySelector(SelectorProposalItem))),
		scenario.Check(byID(VoteChoiceTestID(choice))),
		scenario.Click(byID(TestIDSubmitVote)),
	)
}

func fillAgent(name, modelType, trainingData string) []scenario.Step {
	s := one(scenario.Type(field("input", FieldAgentName), name))
	if modelType != "" {
		s = append(s, scenario.Select(field("select", FieldModelType), modelType))
	}
	if trainingData != "" {
		s = append(s, scenario.Type(field("input", FieldTrainingData), trainingData))
	}
	return append(s, scenario.Click(byID(TestIDDeployAgent)))
}

func newScenario(name, description string, tags []string, body ...[]scenario.Step) scenario.Scenario {
	return scenario.Scenario{
		Name:        name,
		Description: description,
		Tags:        tags,
		Intercepts:  DefaultIntercepts(),
		Steps:       steps(append([][]scenario.Step{visitHome()}, body...)...),
	}
}

// Scenarios returns the Ontora catalogue for a front-end seeded with fx.
func Scenarios(fx Fixtures) []scenario.Scenario {
	seeded := len(fx.Proposals)
	statSteps := make([]scenario.Step, 0, len(fx.Stats))
	for _, st := range fx.Stats {
		statSteps = append(statSteps, scenario.Assert(observer.Contains(SelectorStatItem, st.String())))
	}

	return []scenario.Scenario{
		newScenario("homepage", "Homepage loads with title, navigation and connect button", []string{"smoke"},
			one(
				scenario.Assert(observer.Contains("h1", TextAppTitle)),
				scenario.Assert(observer.VisibleTestID(TestIDConnectWallet, TextConnectWallet)),
				scenario.Assert(observer.Visible("nav", "")),
			),
		),
		newScenario("wallet-connect", "Connecting shows the status, the address and the disconnect button", []string{"wallet", "smoke"},
			connectWallet(),
			one(
				scenario.Assert(observer.Contains(SelectorWalletAddress, wallet.DefaultAddress)),
				scenario.Assert(observer.VisibleTestID(TestIDDisconnectWallet, TextDisconnectWallet)),
			),
		),
		newScenario("wallet-disconnect", "Disconnecting restores the disconnected view", []string{"wallet"},
			connectWallet(),
			one(
				scenario.Click(byID(TestIDDisconnectWallet)),
				scenario.Assert(observer.Contains(SelectorWalletStatus, TextDisconnected)),
				scenario.Assert(observer.NotExists(SelectorWalletAddress)),
				scenario.Assert(observer.VisibleTestID(TestIDConnectWallet, TextConnectWallet)),
			),
		),
		newScenario("governance-navigate", "Governance dashboard is reachable after connecting", []string{"governance"},
			connectWallet(),
			gotoGovernance(),
			one(
				scenario.Assert(observer.Contains("h2", TextGovernanceHeading)),
				scenario.Assert(observer.VisibleTestID(TestIDCreateProposal, "Create Proposal")),
			),
		),
		newScenario("proposal-create", "Creating a proposal adds exactly one entry with the submitted title", []string{"governance", "smoke"},
			connectWallet(),
			gotoGovernance(),
			fillProposal("Test Proposal for Ontora AI", "This is a test proposal to enhance AI agent deployment rules."),
			one(
				scenario.WaitFor(AliasCreateProposal, http.StatusOK, map[string]string{"proposalId": MockProposalID}),
				scenario.Assert(observer.Contains(SelectorProposalList, "Test Proposal for Ontora AI")),
				scenario.Assert(observer.Success(TextProposalCreated)),
				scenario.Assert(observer.Count(SelectorProposalItem, seeded+1)),
				scenario.Assert(observer.ContainsAt(SelectorProposalItem, 0, "Test Proposal for Ontora AI")),
			),
		),
		newScenario("proposal-vote", "Voting Yes on the first proposal marks it as voted", []string{"governance"},
			connectWallet(),
			gotoGovernance(),
			voteFirst("Yes"),
			one(
				scenario.WaitFor(AliasSubmitVote, http.StatusOK, map[string]string{"choice": "Yes", "voteId": MockVoteID}),
				scenario.Assert(observer.Success(TextVoteSubmitted)),
				scenario.Assert(observer.ContainsAt(SelectorProposalItem, 0, VotedText("Yes"))),
			),
		),
		newScenario("deploy-navigate", "Agent deployment page is reachable after connecting", []string{"agents"},
			connectWallet(),
			gotoDeploy(),
			one(
				scenario.Assert(observer.Contains("h2", TextDeployHeading)),
				scenario.Assert(observer.VisibleTestID(TestIDConfigureAgent, "Configure Agent")),
			),
		),
		newScenario("agent-deploy", "Deploying an agent lists it with status Deployed", []string{"agents", "smoke"},
			connectWallet(),
			gotoDeploy(),
			fillAgent("TestAgent001", "PredictiveModel", "localDataset.json"),
			one(
				scenario.WaitFor(AliasDeployAgent, http.StatusOK, map[string]string{"agentId": MockAgentID}),
				scenario.Assert(observer.Contains(SelectorAgentList, "TestAgent001")),
				scenario.Assert(observer.Success(TextAgentDeployed)),
				scenario.Assert(observer.Contains(SelectorAgentStatus, StatusText("Deployed"))),
			),
		),
		newScenario("wallet-connect-failure", "A rejected connect shows an error and stays disconnected", []string{"wallet", "errors"},
			one(
				scenario.Wallet(scenario.WalletSpec{Method: string(wallet.MethodConnect), Reject: "Wallet connection failed"}),
				scenario.Click(byID(TestIDConnectWallet)),
				scenario.Assert(observer.Failure(TextConnectFailed)),
				scenario.Assert(observer.Contains(SelectorWalletStatus, TextDisconnected)),
			),
		),
		newScenario("proposal-create-failure", "A 400 from the proposal endpoint shows one error and adds nothing", []string{"governance", "errors"},
			one(scenario.Intercept(FailureIntercept("createProposalFail", EndpointProposal, http.StatusBadRequest, "Invalid proposal data"))),
			connectWallet(),
			gotoGovernance(),
			fillProposal("Test Proposal", "Invalid data"),
			one(
				scenario.WaitFor("createProposalFail", http.StatusBadRequest, nil),
				scenario.Assert(observer.SingleFailure(TextProposalFailed)),
				scenario.Assert(observer.Count(SelectorProposalItem, seeded)),
			),
		),
		newScenario("agent-deploy-failure", "A 500 from the deploy endpoint shows one error and adds nothing", []string{"agents", "errors"},
			one(scenario.Intercept(FailureIntercept("deployAgentFail", EndpointDeploy, http.StatusInternalServerError, "Deployment failed due to server error"))),
			connectWallet(),
			gotoDeploy(),
			fillAgent("TestAgentFail", "PredictiveModel", ""),
			one(
				scenario.WaitFor("deployAgentFail", http.StatusInternalServerError, nil),
				scenario.Assert(observer.SingleFailure(TextDeployFailed)),
				scenario.Assert(observer.Count(SelectorAgentItem, 0)),
			),
		),
		newScenario("logout", "Logout disconnects and returns to the homepage", []string{"wallet"},
			connectWallet(),
			one(
				scenario.Click(byID(TestIDNavProfile)),
				scenario.Assert(observer.URLIncludes(RouteProfile)),
				scenario.Click(byID(TestIDLogout)),
				scenario.Assert(observer.URLEquals(RouteHome)),
				scenario.Assert(observer.Contains(SelectorWalletStatus, TextDisconnected)),
				scenario.Assert(observer.VisibleTestID(TestIDConnectWallet, TextConnectWallet)),
			),
		),
		newScenario("agent-stats", "The dashboard shows evolution stats after a deployment", []string{"agents"},
			connectWallet(),
			gotoDeploy(),
			fillAgent("TestAgentStats", "", ""),
			one(scenario.Wait(AliasDeployAgent)),
			gotoDashboard(),
			one(scenario.Assert(observer.Contains(SelectorAgentStats, TextEvolution))),
			statSteps,
		),
		newScenario("full-journey", "Connect, propose, vote, deploy and check the dashboard", []string{"journey"},
			connectWallet(),
			gotoGovernance(),
			fillProposal("Full Journey Proposal", "Proposal for testing full user journey."),
			one(
				scenario.Wait(AliasCreateProposal),
				scenario.Assert(observer.Success(TextProposalCreated)),
			),
			voteFirst("Yes"),
			one(
				scenario.Wait(AliasSubmitVote),
				scenario.Assert(observer.Success(TextVoteSubmitted)),
			),
			gotoDeploy(),
			fillAgent("FullJourneyAgent", "", ""),
			one(
				scenario.Wait(AliasDeployAgent),
				scenario.Assert(observer.Success(TextAgentDeployed)),
			),
			gotoDashboard(),
			one(scenario.Assert(observer.Contains(SelectorAgentList, "FullJourneyAgent"))),
		),
		newScenario("proposal-requires-wallet", "Submitting a proposal without a wallet only produces an error", []string{"governance", "errors", "property"},
			gotoGovernance(),
			fillProposal("Orphan Proposal", "Nobody is connected."),
			one(
				scenario.Assert(observer.SingleFailure(TextProposalFailed)),
				scenario.Assert(observer.Count(SelectorProposalItem, seeded)),
			),
		),
		newScenario("deploy-requires-wallet", "Deploying without a wallet only produces an error", []string{"agents", "errors", "property"},
			gotoDeploy(),
			fillAgent("OrphanAgent", "", ""),
			one(
				scenario.Assert(observer.SingleFailure(TextDeployFailed)),
				scenario.Assert(observer.Count(SelectorAgentItem, 0)),
			),
		),
		ConnectCycles(4),
		ConnectCycles(5),
	}
}

// Default is the catalogue for the default fixtures.
func Default() []scenario.Scenario { return Scenarios(DefaultFixtures()) }

// ConnectCycles clicks connect and disconnect alternately n times. An even
// count ends disconnected, an odd count ends connected with the same address.
func ConnectCycles(n int) scenario.Scenario {
	var body []scenario.Step
	for i := 0; i < n; i++ {
		if i%2 == 0 {
			body = append(body, connectWallet()...)
			continue
		}
		body = append(body,
			scenario.Click(byID(TestIDDisconnectWallet)),
			scenario.Assert(observer.Contains(SelectorWalletStatus, TextDisconnected)),
		)
	}
	if n%2 == 0 {
		body = append(body, scenario.Assert(observer.NotExists(SelectorWalletAddress)))
	} else {
		body = append(body, scenario.Assert(observer.Contains(SelectorWalletAddress, wallet.DefaultAddress)))
	}
	return newScenario(fmt.Sprintf("wallet-cycles-%d", n),
		fmt.Sprintf("%d connect/disconnect clicks leave the wallet in the parity state", n),
		[]string{"wallet", "property"}, body)
}
