package domain

type Project struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type Source struct {
	ID          string `json:"id"`
	ProjectID   string `json:"project_id"`
	Kind        string `json:"kind" enum:"email,meeting,chat,document,feed"`
	Title       string `json:"title"`
	Content     string `json:"content"`
	ContentType string `json:"content_type" enum:"text,html"`
	Origin      string `json:"origin"`
	ExternalID  string `json:"external_id,omitempty"`
	Category    string `json:"category,omitempty"`
	Relevant    *bool  `json:"relevant,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type Integration struct {
	ID           string `json:"id"`
	ProjectID    string `json:"project_id"`
	Kind         string `json:"kind" enum:"feed"`
	Name         string `json:"name"`
	URL          string `json:"url"`
	Status       string `json:"status" enum:"connected,disconnected,error"`
	LastSyncedAt string `json:"last_synced_at,omitempty"`
	LastError    string `json:"last_error,omitempty"`
	CreatedAt    string `json:"created_at" format:"date-time"`
}

type ProviderCredential struct {
	ProjectID string `json:"project_id"`
	Provider  string `json:"provider"`
	APIKey    string `json:"-"`
	CreatedAt string `json:"created_at" format:"date-time"`
	UpdatedAt string `json:"updated_at" format:"date-time"`
}

// Masked returns the key with everything but the last four characters hidden.
func (c ProviderCredential) Masked() string {
	if len(c.APIKey) <= 4 {
		return "****"
	}
	return "****" + c.APIKey[len(c.APIKey)-4:]
}

type RunStatus string

const (
	StatusIngesting              RunStatus = "ingesting"
	StatusClassifying            RunStatus = "classifying"
	StatusExtractingRequirements RunStatus = "extracting_requirements"
	StatusExtractingStakeholders RunStatus = "extracting_stakeholders"
	StatusExtractingDecisions    RunStatus = "extracting_decisions"
	StatusExtractingTimeline     RunStatus = "extracting_timeline"
	StatusDetectingConflicts     RunStatus = "detecting_conflicts"
	StatusBuildingTraceability   RunStatus = "building_traceability"
	StatusGeneratingDocuments    RunStatus = "generating_documents"
	StatusCompleted              RunStatus = "completed"
	StatusFailed                 RunStatus = "failed"
	StatusCancelled              RunStatus = "cancelled"
)

// Terminal reports whether no further transitions can happen.
func (s RunStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

type RunCounts struct {
	Sources      int `json:"sources_found"`
	Requirements int `json:"requirements_found"`
	Stakeholders int `json:"stakeholders_found"`
	Decisions    int `json:"decisions_found"`
	Conflicts    int `json:"conflicts_found"`
}

type ExtractionRun struct {
	ID          string    `json:"id"`
	ProjectID   string    `json:"project_id"`
	Status      RunStatus `json:"status"`
	Stage       RunStatus `json:"stage"`
	Provider    string    `json:"provider"`
	Regenerate  bool      `json:"regenerate"`
	Counts      RunCounts `json:"counts"`
	Error       string    `json:"error,omitempty"`
	StartedAt   string    `json:"started_at" format:"date-time"`
	UpdatedAt   string    `json:"updated_at" format:"date-time"`
	CompletedAt string    `json:"completed_at,omitempty" format:"date-time"`
}

const (
	LevelInfo    = "info"
	LevelWarn    = "warn"
	LevelError   = "error"
	LevelSuccess = "success"
)

type LogEntry struct {
	ID      int64  `json:"id"`
	RunID   string `json:"run_id"`
	TS      string `json:"ts" format:"date-time"`
	Agent   string `json:"agent"`
	Level   string `json:"level" enum:"info,warn,error,success"`
	Message string `json:"message"`
}

type Requirement struct {
	ID          string  `json:"id"`
	ProjectID   string  `json:"project_id"`
	RunID       string  `json:"run_id"`
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	Type        string  `json:"type" enum:"functional,non_functional,business,technical"`
	Priority    string  `json:"priority" enum:"high,medium,low"`
	Confidence  float64 `json:"confidence"`
	SourceID    string  `json:"source_id,omitempty"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
}

type Stakeholder struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	RunID     string `json:"run_id"`
	Name      string `json:"name"`
	Role      string `json:"role,omitempty"`
	Influence string `json:"influence,omitempty"`
	Interest  string `json:"interest,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Decision struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	RunID     string `json:"run_id"`
	Title     string `json:"title"`
	Decision  string `json:"decision"`
	Rationale string `json:"rationale,omitempty"`
	DecidedBy string `json:"decided_by,omitempty"`
	SourceID  string `json:"source_id,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type TimelineEvent struct {
	ID          string `json:"id"`
	ProjectID   string `json:"project_id"`
	RunID       string `json:"run_id"`
	Date        string `json:"date"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityMajor    Severity = "major"
	SeverityMinor    Severity = "minor"
)

type ConflictStatus string

const (
	ConflictDetected  ConflictStatus = "detected"
	ConflictReviewing ConflictStatus = "reviewing"
	ConflictResolved  ConflictStatus = "resolved"
	ConflictAccepted  ConflictStatus = "accepted"
)

// Settled reports whether the conflict carries a final resolution.
func (s ConflictStatus) Settled() bool {
	return s == ConflictResolved || s == ConflictAccepted
}

type Conflict struct {
	ID             string         `json:"id"`
	ProjectID      string         `json:"project_id"`
	RunID          string         `json:"run_id"`
	Title          string         `json:"title"`
	Description    string         `json:"description,omitempty"`
	Severity       Severity       `json:"severity" enum:"critical,major,minor"`
	Status         ConflictStatus `json:"status" enum:"detected,reviewing,resolved,accepted"`
	Resolution     string         `json:"resolution,omitempty"`
	RequirementIDs []string       `json:"requirement_ids"`
	DetectedAt     string         `json:"detected_at" format:"date-time"`
	ResolvedAt     string         `json:"resolved_at,omitempty" format:"date-time"`
}

type TraceLink struct {
	ProjectID     string `json:"project_id"`
	RequirementID string `json:"requirement_id"`
	TargetKind    string `json:"target_kind" enum:"source,stakeholder,decision"`
	TargetID      string `json:"target_id"`
}

type SharedDocument struct {
	Token          string `json:"token"`
	ProjectID      string `json:"project_id"`
	DocumentID     string `json:"document_id"`
	Permission     string `json:"permission" enum:"view,comment,edit"`
	SnapshotJSON   string `json:"-"`
	CreatedBy      string `json:"created_by"`
	CreatedAt      string `json:"created_at" format:"date-time"`
	ExpiresAt      string `json:"expires_at,omitempty" format:"date-time"`
	RevokedAt      string `json:"revoked_at,omitempty" format:"date-time"`
	ViewCount      int    `json:"view_count"`
	LastAccessedAt string `json:"last_accessed_at,omitempty" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Actor struct {
	ID          string   `json:"id"`
	DisplayName string   `json:"display_name,omitempty"`
	Roles       []string `json:"roles"`
	CreatedAt   string   `json:"created_at" format:"date-time"`
}

type Preferences struct {
	ActorID        string   `json:"actor_id"`
	Theme          string   `json:"theme" enum:"light,dark,system"`
	RecentSearches []string `json:"recent_searches"`
	Onboarded      bool     `json:"onboarded"`
	UpdatedAt      string   `json:"updated_at" format:"date-time"`
}

type EntityCounts struct {
	Sources        int `json:"sources"`
	Requirements   int `json:"requirements"`
	Stakeholders   int `json:"stakeholders"`
	Decisions      int `json:"decisions"`
	TimelineEvents int `json:"timeline_events"`
	Conflicts      int `json:"conflicts"`
	TraceLinks     int `json:"trace_links"`
	Documents      int `json:"documents"`
}
