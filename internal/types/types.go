// Package types holds the data model shared across the capture-to-memory
// pipeline: traces, activity sessions, their events, summaries, entities,
// and chat history.
package types

// SummaryType distinguishes a short periodic rollup from a daily collation.
type SummaryType string

const (
	SummaryShort SummaryType = "short"
	SummaryDaily SummaryType = "daily"
)

// EntityType is the recognized vocabulary for extracted entities.
type EntityType string

const (
	EntityPerson     EntityType = "person"
	EntityProject    EntityType = "project"
	EntityTechnology EntityType = "technology"
	EntityURL        EntityType = "url"
	EntityFile       EntityType = "file"
)

// ActivityType is the VLM's classification of what a trace shows.
type ActivityType string

const (
	ActivityCoding         ActivityType = "coding"
	ActivityBrowsing       ActivityType = "browsing"
	ActivityReading        ActivityType = "reading"
	ActivityWriting        ActivityType = "writing"
	ActivityCommunication  ActivityType = "communication"
	ActivityMedia          ActivityType = "media"
	ActivityOther          ActivityType = "other"
)

// ChatRole is the speaker of one persisted chat message.
type ChatRole string

const (
	RoleUser      ChatRole = "user"
	RoleAssistant ChatRole = "assistant"
	RoleSystem    ChatRole = "system"
)

// FocusContext is what a FocusProbe reports about the active window.
// All fields are best-effort; implementations on unsupported platforms may
// return the zero value throughout.
type FocusContext struct {
	AppName      string
	WindowTitle  string
	IsFullscreen bool
	HasBounds    bool
	BoundsX      int
	BoundsY      int
	BoundsW      int
	BoundsH      int
	PID          int32
	HasPID       bool
}

// CapturedFrame is one frame acquired by ScreenCapture, pre-encoding.
type CapturedFrame struct {
	Pixels    []byte // RGBA, row-major
	Width     int
	Height    int
	Timestamp int64 // unix millis
}

// NewTrace is the insert-time payload for Store.InsertTrace; enrichment
// columns are filled later by VlmWorkerPool.
type NewTrace struct {
	Timestamp    int64
	ImagePath    string
	AppName      string
	WindowTitle  string
	IsFullscreen bool
	HasBounds    bool
	BoundsX      int
	BoundsY      int
	BoundsW      int
	BoundsH      int
	IsIdle       bool
	Phash        [8]byte
}

// Trace is one atomic capture, persisted with its (possibly still-empty)
// enrichment columns.
type Trace struct {
	ID        int64
	Timestamp int64
	ImagePath string

	AppName      string
	WindowTitle  string
	IsFullscreen bool
	HasBounds    bool
	BoundsX      int
	BoundsY      int
	BoundsW      int
	BoundsH      int
	IsIdle       bool

	Phash [8]byte

	OCRText              string
	HasOCRText           bool
	VlmSummary           string
	VlmActionDescription string
	VlmActivityType      ActivityType
	VlmConfidence        float64
	VlmEntitiesJSON      string // JSON array of entity names
	VlmRawJSON           string
	IsKeyAction          bool

	Embedding   []float32
	HasEmbedding bool

	ActivitySessionID   int64
	HasActivitySession  bool
}

// ActivitySession is a contiguous, per-application thread of traces.
type ActivitySession struct {
	ID          int64
	AppName     string
	Title       string
	Description string

	StartTime    int64
	EndTime      int64
	StartTraceID int64
	EndTraceID   int64
	TraceCount   int

	ContextText    string
	EntitiesJSON   string // JSON object: entity name -> mention count
	KeyActionsJSON string // JSON array, bounded

	LastEmbedding []float32
	UpdatedAt     int64
	CreatedAt     int64
}

// KeyAction is one element of ActivitySession.KeyActionsJSON, decoded.
type KeyAction struct {
	Timestamp          int64    `json:"timestamp"`
	TraceID            int64    `json:"trace_id"`
	Summary            string   `json:"summary"`
	ActionDescription  string   `json:"action_description"`
	ActivityType       ActivityType `json:"activity_type"`
	Entities           []string `json:"entities"`
}

// ActivitySessionEvent is the VLM verdict for one trace within its session.
type ActivitySessionEvent struct {
	ID                 int64
	SessionID          int64
	TraceID            int64
	Timestamp          int64
	Summary            string
	ActionDescription  string
	ActivityType       ActivityType
	Confidence         float64
	EntitiesJSON       string
	IsKeyAction        bool
	RawJSON            string
}

// Summary is a rollup over a time window.
type Summary struct {
	ID             int64
	StartTime      int64
	EndTime        int64
	SummaryType    SummaryType
	Content        string
	StructuredData string // JSON: topics, links, activity_breakdown, entities
	TraceCount     int
	CreatedAt      int64
}

// StructuredSummary is Summary.StructuredData, decoded.
type StructuredSummary struct {
	Topics            []string              `json:"topics"`
	Links             []string              `json:"links"`
	ActivityBreakdown []ActivityBreakdown   `json:"activity_breakdown"`
	Entities          []SummaryEntityMention `json:"entities"`
}

// ActivityBreakdown is one entry of StructuredSummary.ActivityBreakdown.
type ActivityBreakdown struct {
	ActivityType ActivityType `json:"activity_type"`
	Count        int          `json:"count"`
}

// SummaryEntityMention is one entity surfaced by a summary's LLM call.
type SummaryEntityMention struct {
	Name       string     `json:"name"`
	Type       EntityType `json:"type"`
	Confidence float64    `json:"confidence"`
}

// Entity is a named thing extracted from summaries.
type Entity struct {
	ID           int64
	Name         string
	Type         EntityType
	MentionCount int
	FirstSeen    int64
	LastSeen     int64
	Metadata     string // JSON, opaque
}

// ChatThread is a persisted chat-with-memory conversation.
type ChatThread struct {
	ID        int64
	UUID      string
	Title     string
	CreatedAt int64
	UpdatedAt int64
}

// ChatMessage is one turn in a ChatThread.
type ChatMessage struct {
	ID         int64
	ThreadID   int64
	Role       ChatRole
	Content    string
	ContextJSON string
	CreatedAt  int64
}
