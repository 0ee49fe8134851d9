package integration

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================
// Field Mapping Tests
// ============================================

func TestMappingsFor(t *testing.T) {
	tests := []struct {
		provider   ProviderCode
		entityType EntityType
		exists     bool
	}{
		{ProviderCodeJira, EntityTypeProject, true},
		{ProviderCodeJira, EntityTypeUser, true},
		{ProviderCodeJira, EntityTypeGroup, false},
		{ProviderCodeEntra, EntityTypeUser, true},
		{ProviderCodeEntra, EntityTypeGroup, true},
		{ProviderCodeEntra, EntityTypeProject, false},
	}

	for _, tt := range tests {
		t.Run(tt.provider.String()+"/"+tt.entityType.String(), func(t *testing.T) {
			mappings, ok := MappingsFor(tt.provider, tt.entityType)
			assert.Equal(t, tt.exists, ok)
			if tt.exists {
				assert.NotEmpty(t, mappings)
			}
		})
	}
}

func TestMapAttributes(t *testing.T) {
	t.Run("maps jira user payload", func(t *testing.T) {
		raw := map[string]any{
			"accountId":    "5b10a2844c20165700ede21g",
			"emailAddress": "Jane.Doe@Example.COM",
			"displayName":  "Jane Doe",
			"active":       true,
			"avatarUrls": map[string]any{
				"16x16": "https://avatar.example.com/16",
				"48x48": "https://avatar.example.com/48",
			},
		}

		attrs := MapAttributes(jiraUserMappings, raw)

		// Email folded, avatar selected, account id not an attribute
		assert.Equal(t, "jane.doe@example.com", attrs["email"])
		assert.Equal(t, "Jane Doe", attrs["display_name"])
		assert.Equal(t, true, attrs["active"])
		assert.Equal(t, "https://avatar.example.com/48", attrs["avatar_url"])
		assert.NotContains(t, attrs, "accountId")
		assert.NotContains(t, attrs, "account_id")
	})

	t.Run("missing payload key stays absent", func(t *testing.T) {
		attrs := MapAttributes(entraUserMappings, map[string]any{"displayName": "Jane"})
		assert.Contains(t, attrs, "display_name")
		assert.NotContains(t, attrs, "email")
		assert.NotContains(t, attrs, "department")
	})

	t.Run("null payload value maps to an explicit clear", func(t *testing.T) {
		attrs := MapAttributes(entraUserMappings, map[string]any{"department": nil})
		require.Contains(t, attrs, "department")
		assert.Nil(t, attrs["department"])
	})
}

func TestSelectAvatar(t *testing.T) {
	t.Run("prefers the 48x48 rendition", func(t *testing.T) {
		v := selectAvatar(map[string]any{
			"24x24": "https://a.example.com/24",
			"48x48": "https://a.example.com/48",
		})
		assert.Equal(t, "https://a.example.com/48", v)
	})

	t.Run("falls back to any rendition", func(t *testing.T) {
		v := selectAvatar(map[string]any{"32x32": "https://a.example.com/32"})
		assert.Equal(t, "https://a.example.com/32", v)
	})

	t.Run("passes plain strings through", func(t *testing.T) {
		assert.Equal(t, "https://a.example.com/x", selectAvatar("https://a.example.com/x"))
	})
}

// ============================================
// Natural Key Tests
// ============================================

func TestNormalizeNaturalKey(t *testing.T) {
	t.Run("case folds user emails", func(t *testing.T) {
		assert.Equal(t, "jane.doe@example.com", NormalizeNaturalKey(EntityTypeUser, "  Jane.Doe@EXAMPLE.com "))
	})

	t.Run("folds unicode spellings to one form", func(t *testing.T) {
		// U+212B ANGSTROM SIGN normalizes to U+00E5 via NFKC + fold
		a := NormalizeNaturalKey(EntityTypeUser, "Åse@example.com")
		b := NormalizeNaturalKey(EntityTypeUser, "åse@example.com")
		assert.Equal(t, b, a)
	})

	t.Run("trims but preserves case for project keys", func(t *testing.T) {
		assert.Equal(t, "P100", NormalizeNaturalKey(EntityTypeProject, " P100 "))
	})
}

// ============================================
// Diff Tests
// ============================================

func newDiffRecord(t *testing.T, attrs AttributeMap, appliedAt time.Time) *InternalRecord {
	record, err := NewInternalRecord(uuid.New(), EntityTypeUser, ProviderCodeJira, "jane@example.com")
	require.NoError(t, err)
	record.Attributes = attrs
	record.LastAppliedAt = appliedAt
	return record
}

func TestDiff(t *testing.T) {
	now := time.Now()

	t.Run("distinguishes absent, null and changed fields", func(t *testing.T) {
		record := newDiffRecord(t, AttributeMap{
			"email":        "jane@example.com",
			"display_name": "Jane",
			"time_zone":    "UTC",
		}, now)

		entity := ExternalEntity{
			Provider:   ProviderCodeJira,
			Type:       EntityTypeUser,
			ExternalID: "acc-1",
			Attributes: AttributeMap{
				"email":        "jane@example.com", // unchanged
				"display_name": "Jane Doe",         // changed
				"time_zone":    nil,                // explicit clear
				// active absent: untouched
			},
			FetchedAt: now.Add(time.Minute),
		}

		result := Diff(record, entity)

		assert.True(t, result.Changed)
		assert.Equal(t, MergeOutcomeUpdated, result.Outcome)
		assert.Equal(t, "Jane Doe", result.Applied["display_name"])
		require.Contains(t, result.Applied, "time_zone")
		assert.Nil(t, result.Applied["time_zone"])
		assert.NotContains(t, result.Applied, "email")
		assert.NotContains(t, result.Applied, "active")
	})

	t.Run("clearing an already absent field is not a change", func(t *testing.T) {
		record := newDiffRecord(t, AttributeMap{"email": "jane@example.com"}, now)
		entity := ExternalEntity{
			Provider:   ProviderCodeJira,
			Type:       EntityTypeUser,
			ExternalID: "acc-1",
			Attributes: AttributeMap{"time_zone": nil},
			FetchedAt:  now.Add(time.Minute),
		}

		result := Diff(record, entity)
		assert.False(t, result.Changed)
		assert.Equal(t, MergeOutcomeUnchanged, result.Outcome)
	})

	t.Run("same snapshot twice yields no delta", func(t *testing.T) {
		record := newDiffRecord(t, nil, time.Time{})
		entity := ExternalEntity{
			Provider:   ProviderCodeJira,
			Type:       EntityTypeUser,
			ExternalID: "acc-1",
			Attributes: AttributeMap{"email": "jane@example.com", "active": true},
			FetchedAt:  now,
		}

		first := Diff(record, entity)
		assert.True(t, first.Changed)

		// Apply as the merge would, then diff the same snapshot again
		record.Attributes = AttributeMap{"email": "jane@example.com", "active": true}
		record.LastAppliedAt = entity.FetchedAt

		second := Diff(record, entity)
		assert.False(t, second.Changed)
		assert.Empty(t, second.Applied)
		assert.Equal(t, MergeOutcomeUnchanged, second.Outcome)
	})

	t.Run("older snapshot is stale and produces no delta", func(t *testing.T) {
		record := newDiffRecord(t, AttributeMap{"display_name": "Current"}, now)
		entity := ExternalEntity{
			Provider:   ProviderCodeJira,
			Type:       EntityTypeUser,
			ExternalID: "acc-1",
			Attributes: AttributeMap{"display_name": "Old"},
			FetchedAt:  now.Add(-time.Hour),
		}

		result := Diff(record, entity)
		assert.False(t, result.Changed)
		assert.Nil(t, result.Applied)
		assert.Equal(t, MergeOutcomeStale, result.Outcome)
		assert.Equal(t, record.Status, result.NextStatus)
	})

	t.Run("later snapshot wins regardless of merge order", func(t *testing.T) {
		t1 := ExternalEntity{
			Provider:   ProviderCodeJira,
			Type:       EntityTypeUser,
			ExternalID: "acc-1",
			Attributes: AttributeMap{"display_name": "First"},
			FetchedAt:  now,
		}
		t2 := ExternalEntity{
			Provider:   ProviderCodeJira,
			Type:       EntityTypeUser,
			ExternalID: "acc-1",
			Attributes: AttributeMap{"display_name": "Second"},
			FetchedAt:  now.Add(time.Minute),
		}

		apply := func(record *InternalRecord, e ExternalEntity) {
			result := Diff(record, e)
			if result.Outcome == MergeOutcomeStale {
				return
			}
			for k, v := range result.Applied {
				if v == nil {
					delete(record.Attributes, k)
					continue
				}
				record.Attributes[k] = v
			}
			record.LastAppliedAt = e.FetchedAt
		}

		inOrder := newDiffRecord(t, AttributeMap{}, time.Time{})
		apply(inOrder, t1)
		apply(inOrder, t2)

		reversed := newDiffRecord(t, AttributeMap{}, time.Time{})
		apply(reversed, t2)
		apply(reversed, t1)

		assert.Equal(t, "Second", inOrder.Attributes["display_name"])
		assert.Equal(t, "Second", reversed.Attributes["display_name"])
		assert.True(t, inOrder.Attributes.Equal(reversed.Attributes))
	})

	t.Run("unlinked record targets linked status", func(t *testing.T) {
		record := newDiffRecord(t, nil, time.Time{})
		entity := ExternalEntity{
			Provider:   ProviderCodeJira,
			Type:       EntityTypeUser,
			ExternalID: "acc-1",
			Attributes: AttributeMap{"email": "jane@example.com"},
			FetchedAt:  now,
		}

		result := Diff(record, entity)
		assert.Equal(t, RecordStatusLinked, result.NextStatus)
	})
}

// ============================================
// AttributeMap Tests
// ============================================

func TestAttributeMap_Equal(t *testing.T) {
	t.Run("numeric values compare across decoder types", func(t *testing.T) {
		a := AttributeMap{"count": 3}
		b := AttributeMap{"count": float64(3)}
		assert.True(t, a.Equal(b))
	})

	t.Run("detects differing keys", func(t *testing.T) {
		a := AttributeMap{"email": "a@example.com"}
		b := AttributeMap{"email": "b@example.com"}
		assert.False(t, a.Equal(b))
	})

	t.Run("nil values must match", func(t *testing.T) {
		a := AttributeMap{"department": nil}
		b := AttributeMap{"department": "Sales"}
		assert.False(t, a.Equal(b))
		assert.True(t, a.Equal(AttributeMap{"department": nil}))
	})
}

func TestAttributeMap_Clone(t *testing.T) {
	original := AttributeMap{"email": "jane@example.com"}
	clone := original.Clone()
	clone["email"] = "other@example.com"

	assert.Equal(t, "jane@example.com", original["email"])
	assert.Nil(t, AttributeMap(nil).Clone())
}
