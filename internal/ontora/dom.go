package ontora

// Stable data-testid values of the Ontora front-end.
const (
	TestIDConnectWallet    = "connect-wallet"
	TestIDDisconnectWallet = "disconnect-wallet"
	TestIDNavHome          = "nav-home"
	TestIDNavGovernance    = "nav-governance"
	TestIDNavDeployAgent   = "nav-deploy-agent"
	TestIDNavDashboard     = "nav-agent-dashboard"
	TestIDNavProfile       = "nav-profile"
	TestIDCreateProposal   = "create-proposal"
	TestIDSubmitProposal   = "submit-proposal"
	TestIDVote             = "vote"
	TestIDVoteChoicePrefix = "vote-choice-"
	TestIDSubmitVote       = "submit-vote"
	TestIDConfigureAgent   = "configure-agent"
	TestIDDeployAgent      = "deploy-agent"
	TestIDLogout           = "logout"
)

// VoteChoiceTestID is the radio button for choice ("Yes", "No", "Abstain").
func VoteChoiceTestID(choice string) string { return TestIDVoteChoicePrefix + choice }

// Form field names.
const (
	FieldTitle        = "title"
	FieldDescription  = "description"
	FieldAgentName    = "agentName"
	FieldModelType    = "modelType"
	FieldTrainingData = "trainingData"
	FieldVoteChoice   = "voteChoice"
)

// Observable regions.
const (
	SelectorWalletStatus  = ".wallet-status"
	SelectorWalletAddress = ".wallet-address"
	SelectorNotification  = ".notification"
	SelectorError         = ".notification-error"
	SelectorProposalList  = ".proposal-list"
	SelectorProposalItem  = ".proposal-item"
	SelectorAgentList     = ".agent-list"
	SelectorAgentItem     = ".agent-item"
	SelectorAgentStatus   = ".agent-status"
	SelectorAgentStats    = ".agent-stats"
	SelectorStatItem      = ".stat-item"
)

// Routes.
const (
	RouteHome        = "/"
	RouteGovernance  = "/governance"
	RouteDeployAgent = "/deploy-agent"
	RouteDashboard   = "/agent-dashboard"
	RouteProfile     = "/profile"
)

// API endpoints the front-end calls.
const (
	EndpointProposal = "/api/governance/proposal"
	EndpointVote     = "/api/governance/vote"
	EndpointDeploy   = "/api/ai/deploy"
)

// Notification and status texts rendered by the front-end.
const (
	TextAppTitle          = "Ontora AI"
	TextConnected         = "Connected"
	TextDisconnected      = "Disconnected"
	TextConnectWallet     = "Connect Wallet"
	TextDisconnectWallet  = "Disconnect Wallet"
	TextGovernanceHeading = "Governance Dashboard"
	TextDeployHeading     = "Deploy AI Agent"
	TextDashboardHeading  = "Agent Dashboard"
	TextProfileHeading    = "Profile"
	TextEvolution         = "Evolution Progress"

	TextProposalCreated = "Proposal created successfully"
	TextVoteSubmitted   = "Vote submitted successfully"
	TextAgentDeployed   = "AI Agent deployed successfully"

	TextConnectFailed  = "Failed to connect wallet"
	TextProposalFailed = "Failed to create proposal"
	TextVoteFailed     = "Failed to submit vote"
	TextDeployFailed   = "Failed to deploy AI agent"
	TextWalletRequired = "wallet not connected"
)

// ModelTypes are the options of the modelType select.
var ModelTypes = []string{"PredictiveModel", "GenerativeModel", "ReinforcementModel"}

// VoteChoices are the options of the vote form.
var VoteChoices = []string{"Yes", "No", "Abstain"}

// StatusText renders the agent status line.
func StatusText(status string) string { return "Status: " + status }

// VotedText renders the vote marker on a proposal item.
func VotedText(choice string) string { return "Voted: " + choice }

// Proposal is a governance proposal as the UI shows it.
type Proposal struct {
	ID          string `json:"id" yaml:"id"`
	Title       string `json:"title" yaml:"title"`
	Description string `json:"description" yaml:"description"`
	Status      string `json:"status" yaml:"status"`
	VoteChoice  string `json:"voteChoice,omitempty" yaml:"vote_choice,omitempty"`
}

// Agent is a deployed AI agent as the UI shows it.
type Agent struct {
	ID              string `json:"id" yaml:"id"`
	Name            string `json:"name" yaml:"name"`
	ModelType       string `json:"modelType" yaml:"model_type"`
	TrainingDataRef string `json:"trainingData" yaml:"training_data"`
	Status          string `json:"status" yaml:"status"`
}

// Stat is one evolution metric on the agent dashboard.
type Stat struct {
	Label string `json:"label" yaml:"label"`
	Value string `json:"value" yaml:"value"`
}

func (s Stat) String() string { return s.Label + ": " + s.Value }

// Fixtures is the data the front-end shows before any interaction.
type Fixtures struct {
	Proposals []Proposal `json:"proposals" yaml:"proposals"`
	Stats     []Stat     `json:"stats" yaml:"stats"`
}

// DefaultFixtures returns the pre-seeded data: one open proposal to vote on
// and the evolution stats shown once an agent is deployed.
func DefaultFixtures() Fixtures {
	return Fixtures{
		Proposals: []Proposal{{
			ID:          "prop001",
			Title:       "Raise agent deployment quota",
			Description: "Allow each wallet to deploy five agents.",
			Status:      "Active",
		}},
		Stats: []Stat{
			{Label: "Accuracy", Value: "85%"},
			{Label: "Iterations", Value: "100"},
		},
	}
}
