// Package auditlog implements the append-only record of moderator actions: actor, action, optional target, and a
// free-form JSON detail blob. Entries are written in the same transaction as the mutation they describe wherever
// the calling package opens one, and are never updated or deleted (spec §3's AuditLog entity).
package auditlog

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Action names the moderator action an entry records. New call sites add a constant here rather than writing a
// free-form string, so VIEW_AUDIT_LOG consumers get a stable, filterable vocabulary.
type Action string

const (
	ActionMessageDelete  Action = "message.delete"
	ActionMemberKick     Action = "member.kick"
	ActionMemberBan      Action = "member.ban"
	ActionMemberUnban    Action = "member.unban"
	ActionMemberTimeout  Action = "member.timeout"
	ActionRoleCreate     Action = "role.create"
	ActionRoleUpdate     Action = "role.update"
	ActionRoleDelete     Action = "role.delete"
	ActionChannelCreate  Action = "channel.create"
	ActionChannelUpdate  Action = "channel.update"
	ActionChannelDelete  Action = "channel.delete"
	ActionOverrideSet    Action = "override.set"
	ActionOverrideDelete Action = "override.delete"
	ActionWebhookCreate  Action = "webhook.create"
	ActionWebhookDelete  Action = "webhook.delete"
	ActionFolderDelete   Action = "folder.delete"
	ActionSharedFileDelete Action = "shared_file.delete"
)

// Entry is a single audit log row.
type Entry struct {
	ID         uuid.UUID
	ActorID    uuid.UUID
	Action     Action
	TargetType string
	TargetID   *uuid.UUID
	Details    map[string]any
	CreatedAt  time.Time
}

// Repository defines the data-access contract for audit log writes and reads.
type Repository interface {
	// Record inserts a new audit log entry. Details may be nil.
	Record(ctx context.Context, entry Entry) error
	// List returns audit log entries newest first, optionally paginated with a before cursor.
	List(ctx context.Context, before *uuid.UUID, limit int) ([]Entry, error)
}
