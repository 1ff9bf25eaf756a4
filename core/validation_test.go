package core

import (
	"errors"
	"testing"
	"time"
)

func TestValidateContentItem(t *testing.T) {
	tests := []struct {
		name    string
		item    *ContentItem
		wantErr error
	}{
		{
			name: "valid item",
			item: &ContentItem{
				Identity:    "news:abc",
				Source:      SourceNews,
				Text:        "Markets rallied on Tuesday",
				PublishedAt: time.Now().Add(-time.Hour),
			},
			wantErr: nil,
		},
		{
			name: "valid item without embedding",
			item: &ContentItem{
				Identity:  "social:abc",
				Source:    SourceSocial,
				Text:      "Anyone else seeing this?",
				Embedding: nil,
			},
			wantErr: nil,
		},
		{
			name:    "nil item",
			item:    nil,
			wantErr: ErrInvalidContentItem,
		},
		{
			name: "empty identity",
			item: &ContentItem{
				Source: SourceNews,
				Text:   "text",
			},
			wantErr: ErrEmptyIdentity,
		},
		{
			name: "unknown source",
			item: &ContentItem{
				Identity: "blog:abc",
				Source:   Source("blog"),
				Text:     "text",
			},
			wantErr: ErrInvalidSource,
		},
		{
			name: "blank text",
			item: &ContentItem{
				Identity: "news:abc",
				Source:   SourceNews,
				Text:     "   \n",
			},
			wantErr: ErrEmptyText,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateContentItem(tt.item)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("ValidateContentItem() error = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateContentItem() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateSuggestion(t *testing.T) {
	valid := func() *Suggestion {
		return &Suggestion{
			Topic:         "Chip export rules",
			Keywords:      []string{"chips", "exports"},
			Rationale:     "Coverage spiked across sources",
			SourceItemIDs: []string{"news:abc"},
		}
	}

	if err := ValidateSuggestion(valid()); err != nil {
		t.Fatalf("ValidateSuggestion() error = %v, want nil", err)
	}

	tests := []struct {
		name    string
		mutate  func(s *Suggestion)
		wantErr error
	}{
		{"empty topic", func(s *Suggestion) { s.Topic = "" }, ErrEmptyTopic},
		{"no keywords", func(s *Suggestion) { s.Keywords = nil }, ErrNoKeywords},
		{"empty rationale", func(s *Suggestion) { s.Rationale = " " }, ErrEmptyRationale},
		{"no evidence", func(s *Suggestion) { s.SourceItemIDs = nil }, ErrNoEvidence},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := valid()
			tt.mutate(s)
			err := ValidateSuggestion(s)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateSuggestion() error = %v, want %v", err, tt.wantErr)
			}
			if !errors.Is(err, ErrInvalidSuggestion) {
				t.Errorf("ValidateSuggestion() error = %v, want wrapped %v", err, ErrInvalidSuggestion)
			}
		})
	}

	if err := ValidateSuggestion(nil); !errors.Is(err, ErrInvalidSuggestion) {
		t.Errorf("ValidateSuggestion(nil) error = %v", err)
	}
}

func TestIsTransient(t *testing.T) {
	if !IsTransient(ErrTransientExternal) {
		t.Error("IsTransient(ErrTransientExternal) = false")
	}
	if IsTransient(ErrPermanentExternal) {
		t.Error("IsTransient(ErrPermanentExternal) = true")
	}
	if IsTransient(nil) {
		t.Error("IsTransient(nil) = true")
	}
}
