package templates

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeblew999/plat-atlas/internal/business"
	"github.com/joeblew999/plat-atlas/internal/hud"
)

func TestRenderList(t *testing.T) {
	r, err := New()
	require.NoError(t, err)

	html, err := r.Render(List, []business.Business{
		{ID: "b1", Name: "Blue Door <Coffee>", Category: "coffee", Rating: 4.6, ReviewCount: 120, Tier: business.TierPaid,
			Reason: &business.Reason{Type: business.ReasonOpenNow, Label: "Open now", Glyph: "🕒"}},
		{ID: "b2", Name: "Corner Espresso"},
	})
	require.NoError(t, err)
	assert.Contains(t, html, `id="atlas-list"`)
	assert.Contains(t, html, `id="atlas-item-b1"`)
	assert.Contains(t, html, `tier-paid`)
	assert.Contains(t, html, `tier-unclaimed`)
	assert.Contains(t, html, "Blue Door &lt;Coffee&gt;")
	assert.Contains(t, html, "4.6 (120)")
	assert.Contains(t, html, "Open now")
	assert.NotContains(t, html, "No businesses")

	html, err = r.Render(List, []business.Business(nil))
	require.NoError(t, err)
	assert.Contains(t, html, "No businesses")
}

func TestRenderHUD(t *testing.T) {
	r, err := New()
	require.NoError(t, err)

	html, err := r.Render(HUD, hud.State{})
	require.NoError(t, err)
	assert.Contains(t, html, `id="atlas-hud"`)
	assert.Contains(t, html, "hidden")

	html, err = r.Render(HUD, hud.State{Visible: true, Kind: hud.KindGuidance, SummaryText: "Tap a pin", PrimaryBusinessName: "Blue Door"})
	require.NoError(t, err)
	assert.NotContains(t, html, "hidden")
	assert.Contains(t, html, "hud-guidance")
	assert.Contains(t, html, "<strong>Blue Door</strong>")
	assert.Contains(t, html, "Tap a pin")
}

func TestReload(t *testing.T) {
	r, err := NewFS(fstest.MapFS{"a.html": {Data: []byte(`{{define "a"}}one{{end}}`)}})
	require.NoError(t, err)
	out, err := r.Render("a", nil)
	require.NoError(t, err)
	assert.Equal(t, "one", out)

	require.NoError(t, r.Reload(fstest.MapFS{"a.html": {Data: []byte(`{{define "a"}}{{with dict "n" 2}}{{.n}}{{end}}{{end}}`)}}))
	out, err = r.Render("a", nil)
	require.NoError(t, err)
	assert.Equal(t, "2", out)

	_, err = r.Render("missing", nil)
	assert.Error(t, err)
}
