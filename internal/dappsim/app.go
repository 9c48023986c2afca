package dappsim

import (
	"github.com/Dicklesworthstone/dappcheck/internal/ontora"
)

type notice struct {
	text    string
	isError bool
}

// state is the front-end model. Every view is rendered from it.
type state struct {
	loaded    bool
	path      string
	connected bool
	address   string
	note      *notice
	fields    map[string]string
	creating  bool
	voting    string
	advanced  bool
	proposals []ontora.Proposal
	agents    []ontora.Agent
}

func freshState(fx ontora.Fixtures, path string) state {
	return state{
		loaded:    true,
		path:      path,
		fields:    map[string]string{ontora.FieldModelType: ontora.ModelTypes[0]},
		proposals: append([]ontora.Proposal(nil), fx.Proposals...),
	}
}

// render builds the view for the current state. p.mu must be held.
func (p *Page) render() *node {
	s := &p.st
	if !s.loaded {
		return h("body", nil)
	}
	return h("body", nil,
		p.header(),
		p.notification(),
		h("main", nil, p.route()),
	)
}

func (p *Page) header() *node {
	s := &p.st
	link := func(id, route, label string) *node {
		return t("a", attrs{"data-testid": id, "href": route}, label).click(func() { p.navigateTo(route) })
	}
	wallet := h("div", attrs{"class": "wallet"})
	if s.connected {
		wallet.children = append(wallet.children,
			t("span", attrs{"class": "wallet-status"}, ontora.TextConnected),
			t("span", attrs{"class": "wallet-address"}, s.address),
			t("button", attrs{"data-testid": ontora.TestIDDisconnectWallet}, ontora.TextDisconnectWallet).click(p.disconnect),
		)
	} else {
		wallet.children = append(wallet.children,
			t("span", attrs{"class": "wallet-status"}, ontora.TextDisconnected),
			t("button", attrs{"data-testid": ontora.TestIDConnectWallet}, ontora.TextConnectWallet).click(p.connect),
		)
	}
	return h("header", nil,
		t("h1", nil, ontora.TextAppTitle),
		h("nav", nil,
			link(ontora.TestIDNavHome, ontora.RouteHome, "Home"),
			link(ontora.TestIDNavGovernance, ontora.RouteGovernance, "Governance"),
			link(ontora.TestIDNavDeployAgent, ontora.RouteDeployAgent, "Deploy AI Agent"),
			link(ontora.TestIDNavDashboard, ontora.RouteDashboard, "Agent Dashboard"),
			link(ontora.TestIDNavProfile, ontora.RouteProfile, "Profile"),
		),
		wallet,
	)
}

func (p *Page) notification() *node {
	n := p.st.note
	if n == nil {
		return nil
	}
	class := "notification"
	if n.isError {
		class += " notification-error"
	}
	return t("div", attrs{"class": class, "role": "alert"}, n.text)
}

func (p *Page) route() *node {
	switch p.st.path {
	case ontora.RouteHome:
		return h("section", attrs{"class": "home"},
			t("h2", nil, "Welcome to "+ontora.TextAppTitle),
			t("p", nil, "Deploy autonomous AI agents and govern the protocol."),
		)
	case ontora.RouteGovernance:
		return p.governance()
	case ontora.RouteDeployAgent:
		return p.deploy()
	case ontora.RouteDashboard:
		return p.dashboard()
	case ontora.RouteProfile:
		return p.profile()
	default:
		return t("h2", nil, "Page not found")
	}
}

func (p *Page) input(tag, name string, a attrs) *node {
	if a == nil {
		a = attrs{}
	}
	a["name"] = name
	a["value"] = p.st.fields[name]
	return h(tag, a)
}

func (p *Page) governance() *node {
	s := &p.st
	sec := h("section", attrs{"class": "governance"},
		t("h2", nil, ontora.TextGovernanceHeading),
		t("button", attrs{"data-testid": ontora.TestIDCreateProposal}, "Create Proposal").click(p.openProposalForm),
	)
	if s.creating {
		sec.children = append(sec.children, h("form", attrs{"class": "proposal-form"},
			p.input("input", ontora.FieldTitle, attrs{"type": "text"}),
			p.input("textarea", ontora.FieldDescription, nil),
			t("button", attrs{"data-testid": ontora.TestIDSubmitProposal}, "Submit Proposal").click(p.submitProposal),
		))
	}
	list := h("div", attrs{"class": "proposal-list"})
	for _, prop := range s.proposals {
		id := prop.ID
		item := h("div", attrs{"class": "proposal-item", "data-id": id},
			t("h3", nil, prop.Title),
			t("p", nil, prop.Description),
			t("span", attrs{"class": "proposal-status"}, ontora.StatusText(prop.Status)),
		)
		if prop.VoteChoice != "" {
			item.children = append(item.children, t("span", attrs{"class": "proposal-vote"}, ontora.VotedText(prop.VoteChoice)))
		}
		item.children = append(item.children,
			t("button", attrs{"data-testid": ontora.TestIDVote}, "Vote").click(func() { p.openVoteForm(id) }))
		list.children = append(list.children, item)
	}
	sec.children = append(sec.children, list)
	if s.voting != "" {
		form := h("form", attrs{"class": "vote-form", "data-proposal": s.voting})
		for _, choice := range ontora.VoteChoices {
			a := attrs{
				"type":        "radio",
				"name":        ontora.FieldVoteChoice,
				"value":       choice,
				"data-testid": ontora.VoteChoiceTestID(choice),
			}
			if s.fields[ontora.FieldVoteChoice] == choice {
				a["checked"] = "checked"
			}
			form.children = append(form.children, h("label", nil, h("input", a), t("span", nil, choice)))
		}
		form.children = append(form.children,
			t("button", attrs{"data-testid": ontora.TestIDSubmitVote}, "Submit Vote").click(p.submitVote))
		sec.children = append(sec.children, form)
	}
	return sec
}

func (p *Page) deploy() *node {
	sel := h("select", attrs{"name": ontora.FieldModelType, "value": p.st.fields[ontora.FieldModelType]})
	for _, mt := range ontora.ModelTypes {
		sel.children = append(sel.children, t("option", attrs{"value": mt}, mt))
	}
	form := h("form", attrs{"class": "agent-form"},
		p.input("input", ontora.FieldAgentName, attrs{"type": "text"}),
		sel,
		p.input("input", ontora.FieldTrainingData, attrs{"type": "text"}),
		t("button", attrs{"data-testid": ontora.TestIDDeployAgent}, "Deploy Agent").click(p.deployAgent),
	)
	var help *node
	if p.st.advanced {
		help = t("p", attrs{"class": "agent-config-help"}, "Pick a model type and an optional training data reference.")
	}
	return h("section", attrs{"class": "deploy-agent"},
		t("h2", nil, ontora.TextDeployHeading),
		t("button", attrs{"data-testid": ontora.TestIDConfigureAgent}, "Configure Agent").click(p.toggleAdvanced),
		help,
		form,
		p.agentList(),
	)
}

func (p *Page) agentList() *node {
	list := h("div", attrs{"class": "agent-list"})
	for _, a := range p.st.agents {
		list.children = append(list.children, h("div", attrs{"class": "agent-item", "data-id": a.ID},
			t("span", attrs{"class": "agent-name"}, a.Name),
			t("span", attrs{"class": "agent-model"}, a.ModelType),
			t("span", attrs{"class": "agent-status"}, ontora.StatusText(a.Status)),
		))
	}
	return list
}

func (p *Page) dashboard() *node {
	sec := h("section", attrs{"class": "agent-dashboard"},
		t("h2", nil, ontora.TextDashboardHeading),
		p.agentList(),
	)
	if len(p.st.agents) > 0 {
		stats := h("div", attrs{"class": "agent-stats"}, t("h3", nil, ontora.TextEvolution))
		for _, st := range p.fixtures.Stats {
			stats.children = append(stats.children, t("div", attrs{"class": "stat-item"}, st.String()))
		}
		sec.children = append(sec.children, stats)
	}
	return sec
}

func (p *Page) profile() *node {
	addr := "Not connected"
	if p.st.connected {
		addr = p.st.address
	}
	return h("section", attrs{"class": "profile"},
		t("h2", nil, ontora.TextProfileHeading),
		t("p", attrs{"class": "profile-address"}, addr),
		t("button", attrs{"data-testid": ontora.TestIDLogout}, "Logout").click(p.logout),
	)
}
