package bus

import (
	"time"

	"github.com/google/uuid"
	"github.com/zeusync/prefabkit/internal/core/ecs"
)

const (
	// TypeInstanceSynced is published after a prefab instance was re-applied from its template.
	TypeInstanceSynced = "prefab.instance.synced"
	// TypeOverridesChanged is published when the override set of an instance changes.
	TypeOverridesChanged = "prefab.overrides.changed"
	// TypePrefabApplied is published after an instance was written back as its template.
	TypePrefabApplied = "prefab.applied"
	// TypeAssetChanged is published when a watched template file changes on disk.
	TypeAssetChanged = "asset.changed"
	// TypeNotification carries user facing messages, such as a failed template write.
	TypeNotification = "editor.notification"
)

type InstanceSynced struct {
	Root      ecs.Entity
	Source    string
	Destroyed int
}

type OverridesChanged struct {
	Root  ecs.Entity
	Count int
}

type PrefabApplied struct {
	Root   ecs.Entity
	Source string
}

type AssetChanged struct {
	Path string
	Op   string
}

type Severity uint8

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
)

type Notification struct {
	Severity Severity
	Message  string
	Err      error
}

type event struct {
	typ  string
	src  string
	ts   time.Time
	data any
}

func (e event) Type() string         { return e.typ }
func (e event) Source() string       { return e.src }
func (e event) Timestamp() time.Time { return e.ts }
func (e event) Data() any            { return e.data }

// NewEvent creates an Event stamped with the current time.
func NewEvent(typ, src string, data any) Event {
	return event{typ: typ, src: src, ts: time.Now(), data: data}
}

// Payload extracts the typed data of an event.
func Payload[T any](e Event) (T, bool) {
	v, ok := e.Data().(T)
	return v, ok
}

func newSubscriptionID() string {
	return uuid.NewString()
}
