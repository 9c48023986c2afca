package browser

import (
	"errors"
	"testing"

	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
)

func TestTarget_CSSPrefersTestID(t *testing.T) {
	t.Parallel()
	tg := Target{TestID: "wallet-connect", Selector: "button"}
	if got := tg.CSS(); got != `[data-testid="wallet-connect"]` {
		t.Errorf("CSS() = %q", got)
	}
	if got := BySelector(".proposal-item").CSS(); got != ".proposal-item" {
		t.Errorf("CSS() = %q", got)
	}
}

func TestTarget_String(t *testing.T) {
	t.Parallel()
	tg := ByTestID("proposal-vote").In(BySelector(".proposal-item").Nth(1)).Containing("Vote")
	want := `[data-testid="proposal-vote"] containing "Vote" within (.proposal-item #1)`
	if got := tg.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestTarget_Validate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		target  Target
		wantErr bool
	}{
		{"testid", ByTestID("x"), false},
		{"selector", BySelector("h1"), false},
		{"empty", Target{}, true},
		{"negative index", BySelector("li").Nth(-1), true},
		{"bad parent", ByTestID("x").In(Target{}), true},
	}
	for _, tt := range tests {
		err := tt.target.Validate()
		if (err != nil) != tt.wantErr {
			t.Errorf("%s: Validate() err = %v, wantErr %v", tt.name, err, tt.wantErr)
		}
	}
}

func TestNotFoundError(t *testing.T) {
	t.Parallel()
	err := error(&NotFoundError{Target: ByTestID("deploy-submit")})
	if !errors.Is(err, ErrNotFound) {
		t.Error("NotFoundError should unwrap to ErrNotFound")
	}
}

func TestElement_HasClass(t *testing.T) {
	t.Parallel()
	el := Element{Classes: []string{"notification", "notification-error"}}
	if !el.HasClass("notification-error") || el.HasClass("proposal-item") {
		t.Errorf("HasClass mismatch for %v", el.Classes)
	}
}

func TestAPIPatternsSkipPageResources(t *testing.T) {
	t.Parallel()

	paused := map[network.ResourceType]bool{}
	for _, p := range apiPatterns {
		if p.RequestStage != fetch.RequestStageRequest {
			t.Errorf("pattern %+v pauses at %s", p, p.RequestStage)
		}
		if p.ResourceType == "" {
			t.Errorf("pattern %+v pauses every resource type", p)
		}
		paused[p.ResourceType] = true
	}
	if !paused[network.ResourceTypeXHR] || !paused[network.ResourceTypeFetch] {
		t.Errorf("paused = %v, want XHR and Fetch", paused)
	}
	for _, rt := range []network.ResourceType{network.ResourceTypeDocument, network.ResourceTypeScript, network.ResourceTypeImage, network.ResourceTypeStylesheet} {
		if paused[rt] {
			t.Errorf("%s requests are paused", rt)
		}
	}
}
