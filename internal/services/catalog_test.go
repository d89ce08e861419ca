package services

import (
	"context"
	"strings"
	"testing"

	"ticketintel/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleCatalog = `
labels:
  - name: VPN
    keywords: [vpn, tunel]
  - name: Legacy
    keywords: [fax]
    active: false
rules:
  - name: redes-norte
    category: Redes
    area: Norte
    technician_id: 7
    priority: 1
  - name: fallback
    technician_id: 2
    priority: 100
`

func TestParseCatalog(t *testing.T) {
	cat, err := ParseCatalog([]byte(sampleCatalog))
	require.NoError(t, err)
	require.Len(t, cat.Labels, 2)
	require.Len(t, cat.Rules, 2)
	assert.Equal(t, []string{"vpn", "tunel"}, cat.Labels[0].Keywords)
	require.NotNil(t, cat.Labels[1].Active)
	assert.False(t, *cat.Labels[1].Active)
	assert.Equal(t, "Redes", *cat.Rules[0].Category)
	assert.Nil(t, cat.Rules[0].Subcategory)
	assert.Nil(t, cat.Rules[1].Category)
}

func TestParseCatalog_Invalid(t *testing.T) {
	tests := map[string]string{
		"unknown field":   "labels:\n  - name: VPN\n    colour: red\n",
		"duplicate label": "labels:\n  - name: VPN\n  - name: vpn\n",
		"missing name":    "labels:\n  - keywords: [x]\n",
		"missing tech":    "rules:\n  - name: r1\n    priority: 1\n",
		"duplicate rule":  "rules:\n  - name: r1\n    technician_id: 1\n  - name: r1\n    technician_id: 2\n",
		"malformed yaml":  "labels: [",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseCatalog([]byte(doc))
			assert.True(t, IsKind(err, KindValidation), "got %v", err)
		})
	}
}

func TestImportCatalog_Upserts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	cat, err := ParseCatalog([]byte(sampleCatalog))
	require.NoError(t, err)

	first, err := store.ImportCatalog(ctx, cat)
	require.NoError(t, err)
	assert.Equal(t, ImportReport{LabelsUpserted: 2, RulesCreated: 2}, *first)

	cat.Rules[0].TechnicianID = 8
	cat.Labels[0].Keywords = []string{"vpn"}
	second, err := store.ImportCatalog(ctx, cat)
	require.NoError(t, err)
	assert.Equal(t, ImportReport{LabelsUpserted: 2, RulesUpdated: 2}, *second)

	labels, err := store.ListLabels(ctx)
	require.NoError(t, err)
	require.Len(t, labels, 1, "inactive labels are not listed")
	assert.Equal(t, "vpn", labels[0].Keywords)

	rules, err := store.ListRules(ctx)
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, uint(8), rules[0].TechnicianID)

	var count int64
	require.NoError(t, store.DB().Model(&models.Label{}).Count(&count).Error)
	assert.Equal(t, int64(2), count)
}

func TestDefaultCatalog_Valid(t *testing.T) {
	cat := DefaultCatalog()
	require.NoError(t, cat.Validate())
	scorer := NewSuggestionScorer(func() []models.Label {
		out := make([]models.Label, len(cat.Labels))
		for i, l := range cat.Labels {
			out[i] = models.Label{Name: l.Name, Keywords: strings.Join(l.Keywords, ","), Active: true}
		}
		return out
	}())
	for _, l := range cat.Labels {
		scores := scorer.Score(&models.Ticket{Description: "sin detalle", Category: l.Name})
		assert.Greater(t, scores[l.Name], 0.0, "label %q not scorable", l.Name)
	}
}
