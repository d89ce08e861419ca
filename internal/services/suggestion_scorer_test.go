package services

import (
	"testing"

	"ticketintel/internal/models"
)

func vpnVocabulary() []models.Label {
	return []models.Label{
		{ID: 1, Name: "VPN", Keywords: "vpn, tunel", Active: true},
		{ID: 2, Name: "Correo", Keywords: "correo,email,mail", Active: true},
		{ID: 3, Name: "Legacy", Keywords: "vpn", Active: false},
		{ID: 4, Name: "Empty", Keywords: " , ", Active: true},
	}
}

func TestSuggestionScorer_ThresholdBoundary(t *testing.T) {
	scorer := NewSuggestionScorer(vpnVocabulary())
	// 6 个 token 命中 1 个：text = 3/6 = 0.5，score = 0.7*0.5 = 0.35
	ticket := &models.Ticket{ID: 1, Description: "vpn uno dos tres cuatro cinco"}

	scores := scorer.Score(ticket)
	if scores["VPN"] != 0.35 {
		t.Fatalf("VPN score = %v, want 0.35", scores["VPN"])
	}

	at := scorer.Candidates(ticket, 0.35)
	if len(at) != 1 || at[0].Label != "VPN" {
		t.Fatalf("score equal to threshold must be included, got %+v", at)
	}
	if below := scorer.Candidates(ticket, 0.36); len(below) != 0 {
		t.Fatalf("threshold above score must exclude, got %+v", below)
	}
}

func TestSuggestionScorer_EmptyDescription(t *testing.T) {
	scorer := NewSuggestionScorer(vpnVocabulary())
	ticket := &models.Ticket{Title: "vpn vpn vpn", Description: "   "}
	if got := scorer.Candidates(ticket, 0); len(got) != 0 {
		t.Fatalf("expected no candidates for empty description, got %+v", got)
	}
}

func TestSuggestionScorer_ConfirmedLabelExcluded(t *testing.T) {
	scorer := NewSuggestionScorer(vpnVocabulary())
	ticket := &models.Ticket{
		Description: "vpn caida",
		Labels:      []models.TicketLabel{{Name: "vpn"}},
	}
	if _, ok := scorer.Score(ticket)["VPN"]; ok {
		t.Fatal("confirmed label must not be scored")
	}
}

func TestSuggestionScorer_ZeroScoreNeverCandidate(t *testing.T) {
	scorer := NewSuggestionScorer(vpnVocabulary())
	ticket := &models.Ticket{Description: "impresora sin papel"}
	if got := scorer.Candidates(ticket, 0); len(got) != 0 {
		t.Fatalf("zero scores must not be candidates, got %+v", got)
	}
}

func TestSuggestionScorer_CategoricalSignal(t *testing.T) {
	scorer := NewSuggestionScorer(vpnVocabulary())
	ticket := &models.Ticket{Description: "no conecta", Category: "VPN"}
	// text = 0, categorical = 1.5/3 = 0.5 → score = 0.3*0.5 = 0.15
	if got := scorer.Score(ticket)["VPN"]; got != 0.15 {
		t.Fatalf("categorical-only score = %v, want 0.15", got)
	}
}

func TestSuggestionScorer_InactiveAndEmptyLabelsSkipped(t *testing.T) {
	scorer := NewSuggestionScorer(vpnVocabulary())
	scores := scorer.Score(&models.Ticket{Description: "vpn"})
	if _, ok := scores["Legacy"]; ok {
		t.Error("inactive label scored")
	}
}

func TestSuggestionScorer_OrderAndRange(t *testing.T) {
	scorer := NewSuggestionScorer(vpnVocabulary())
	ticket := &models.Ticket{Title: "correo y vpn", Description: "el correo no llega por la vpn, correo caido"}
	got := scorer.Candidates(ticket, 0.01)
	if len(got) != 2 {
		t.Fatalf("expected 2 candidates, got %+v", got)
	}
	if got[0].Label != "Correo" {
		t.Errorf("highest score first: got %+v", got)
	}
	for _, c := range got {
		if c.Score < 0 || c.Score > 1 {
			t.Errorf("score out of range: %+v", c)
		}
	}
	again := scorer.Candidates(ticket, 0.01)
	for i := range got {
		if got[i] != again[i] {
			t.Fatalf("scores not deterministic: %+v vs %+v", got, again)
		}
	}
}
