package notes

import "time"

// resolveChange applies last-write-wins reconciliation for a single note:
// an incoming change is accepted only when its updated timestamp is strictly
// greater than the stored one. Accepted upserts replace the stored row
// wholesale; accepted deletes keep the row as a tombstone so the deletion
// propagates to clients that still hold the note.
func resolveChange(existing *Note, change ChangeRequest, appliedAt time.Time) ConflictOutcome {
	if existing != nil && change.UpdatedAtSeconds <= existing.UpdatedAtSeconds {
		rejected := *existing
		return ConflictOutcome{Accepted: false, UpdatedNote: &rejected}
	}

	updated := Note{
		NoteID:           change.NoteID.String(),
		NoteType:         change.NoteType,
		Content:          change.Content,
		TagsJSON:         EncodeTags(change.Tags),
		Category:         change.Category,
		Archived:         change.Archived,
		CreatedAtSeconds: change.CreatedAtSeconds,
		UpdatedAtSeconds: change.UpdatedAtSeconds,
		Version:          1,
	}

	if existing != nil {
		updated.CreatedAtSeconds = existing.CreatedAtSeconds
		updated.Version = existing.Version + 1
	}
	if updated.CreatedAtSeconds == 0 {
		if change.UpdatedAtSeconds > 0 {
			updated.CreatedAtSeconds = change.UpdatedAtSeconds
		} else {
			updated.CreatedAtSeconds = appliedAt.Unix()
		}
	}
	if updated.NoteType == "" {
		updated.NoteType = "text"
	}

	if change.Operation == OperationTypeDelete {
		updated.IsDeleted = true
		updated.Content = ""
		updated.TagsJSON = "[]"
		if existing != nil {
			updated.NoteType = existing.NoteType
			updated.Category = existing.Category
		}
	}

	return ConflictOutcome{Accepted: true, UpdatedNote: &updated}
}
