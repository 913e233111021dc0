package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"tracelayer/internal/brd"
	"tracelayer/internal/domain"
	"tracelayer/internal/ingest"
	"tracelayer/internal/llm"
	"tracelayer/internal/repo"
)

// ErrNoInputs fails ingestion when a project has nothing to read from.
var ErrNoInputs = errors.New("no data sources or integrations available")

// Agent performs the work of one stage.
type Agent interface {
	Name() string
	Stage() domain.RunStatus
	Run(ctx context.Context, rc *RunContext) error
}

// RunContext is the state shared by the agents of one run.
type RunContext struct {
	Run            domain.ExtractionRun
	Repo           repo.Repo
	LLM            llm.Provider
	Feeds          *ingest.FeedFetcher
	MaxTokens      int
	MaxSourceChars int
	Now            func() time.Time
	Counts         domain.RunCounts

	// Sources holds the sources later stages read, set by ingestion and narrowed by classification.
	Sources []domain.Source

	logFn func(agent, level, msg string)
}

func (rc *RunContext) Logf(agent, level, format string, args ...any) {
	if rc.logFn != nil {
		rc.logFn(agent, level, fmt.Sprintf(format, args...))
	}
}

func (rc *RunContext) now() string {
	if rc.Now == nil {
		return time.Now().UTC().Format(time.RFC3339)
	}
	return rc.Now().UTC().Format(time.RFC3339)
}

func (rc *RunContext) projectID() string { return rc.Run.ProjectID }

// askJSON sends one task prompt and decodes the JSON reply into out.
func (rc *RunContext) askJSON(ctx context.Context, task, instructions, material string, out any) error {
	if rc.LLM == nil {
		return fmt.Errorf("%s: no LLM provider", task)
	}
	prompt := fmt.Sprintf("Task: %s\n\n%s\n\nRespond with JSON only.\n\n%s", task, instructions, material)
	maxTokens := rc.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 2048
	}
	reply, err := rc.LLM.Generate(ctx, prompt, maxTokens)
	if err != nil {
		return fmt.Errorf("%s: %w", task, err)
	}
	if err := llm.DecodeJSON(reply, out); err != nil {
		return fmt.Errorf("%s: %w", task, err)
	}
	return nil
}

// DefaultAgents returns one agent per stage in stage order.
func DefaultAgents() []Agent {
	return []Agent{
		ingestionAgent{},
		classificationAgent{},
		requirementsAgent{},
		stakeholdersAgent{},
		decisionsAgent{},
		timelineAgent{},
		conflictsAgent{},
		traceabilityAgent{},
		documentsAgent{},
	}
}

// EntityID derives a stable id so re-running a project updates rather than duplicates.
func EntityID(projectID, kind string, parts ...string) string {
	key := projectID + "|" + kind
	for _, p := range parts {
		key += "|" + strings.ToLower(strings.TrimSpace(p))
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(key)).String()
}

func sourceMaterial(sources []domain.Source, maxChars int) string {
	if maxChars <= 0 {
		maxChars = 12000
	}
	var b strings.Builder
	for _, s := range sources {
		entry := fmt.Sprintf("[source %s] (%s) %s\n%s\n\n", s.ID, s.Kind, s.Title, strings.TrimSpace(s.Content))
		if b.Len()+len(entry) > maxChars {
			remaining := maxChars - b.Len()
			for remaining > 0 && !utf8.RuneStart(entry[remaining]) {
				remaining--
			}
			if remaining > 0 {
				b.WriteString(entry[:remaining])
			}
			break
		}
		b.WriteString(entry)
	}
	return b.String()
}

func sourceIDs(sources []domain.Source) map[string]bool {
	ids := make(map[string]bool, len(sources))
	for _, s := range sources {
		ids[s.ID] = true
	}
	return ids
}

func oneOf(v string, allowed ...string) (string, bool) {
	v = strings.ToLower(strings.TrimSpace(v))
	v = strings.NewReplacer("-", "_", " ", "_").Replace(v)
	for _, a := range allowed {
		if v == a {
			return v, true
		}
	}
	return "", false
}

type ingestionAgent struct{}

func (ingestionAgent) Name() string            { return "ingestion" }
func (ingestionAgent) Stage() domain.RunStatus { return domain.StatusIngesting }

func (a ingestionAgent) Run(ctx context.Context, rc *RunContext) error {
	integrations, err := rc.Repo.ListIntegrations(ctx, rc.projectID())
	if err != nil {
		return err
	}
	connected := 0
	for _, it := range integrations {
		if it.Kind != "feed" || it.Status != "connected" {
			continue
		}
		connected++
		if err := ctx.Err(); err != nil {
			return err
		}
		added, err := SyncFeed(ctx, rc.Repo, rc.Feeds, it, rc.now)
		if err != nil {
			rc.Logf(a.Name(), domain.LevelWarn, "Feed %s failed to sync: %v", it.Name, err)
			continue
		}
		rc.Logf(a.Name(), domain.LevelInfo, "Feed %s synced, %d new sources", it.Name, added)
	}
	sources, err := rc.Repo.ListSources(ctx, rc.projectID())
	if err != nil {
		return err
	}
	if len(sources) == 0 {
		if connected == 0 {
			return ErrNoInputs
		}
		return fmt.Errorf("integrations returned no sources")
	}
	for i, s := range sources {
		if s.ContentType != "html" {
			continue
		}
		text, err := ingest.NormalizeHTML(s.Content, "")
		if err != nil {
			rc.Logf(a.Name(), domain.LevelWarn, "Could not normalise %s: %v", s.Title, err)
			continue
		}
		if err := rc.Repo.UpdateSourceContent(ctx, s.ID, text, "text"); err != nil {
			return err
		}
		sources[i].Content, sources[i].ContentType = text, "text"
	}
	rc.Sources = sources
	rc.Counts.Sources = len(sources)
	rc.Logf(a.Name(), domain.LevelInfo, "Ingested %d sources", len(sources))
	return nil
}

// SyncFeed pulls a feed integration into sources and records the outcome on the integration.
func SyncFeed(ctx context.Context, r repo.Repo, feeds *ingest.FeedFetcher, it domain.Integration, now func() string) (int, error) {
	if feeds == nil {
		feeds = ingest.NewFeedFetcher(0)
	}
	entries, err := feeds.Fetch(ctx, it.URL)
	if err != nil {
		_ = r.MarkIntegrationSynced(context.WithoutCancel(ctx), it.ID, now(), err.Error())
		return 0, err
	}
	added := 0
	for _, e := range entries {
		externalID := it.ID + ":" + e.ExternalID
		created := e.Published
		if created == "" {
			created = now()
		}
		ok, err := r.InsertSource(ctx, nil, domain.Source{
			ID:          EntityID(it.ProjectID, "source", externalID),
			ProjectID:   it.ProjectID,
			Kind:        "feed",
			Title:       e.Title,
			Content:     e.Content,
			ContentType: e.ContentType,
			Origin:      it.ID,
			ExternalID:  externalID,
			CreatedAt:   created,
		})
		if err != nil {
			return added, err
		}
		if ok {
			added++
		}
	}
	return added, r.MarkIntegrationSynced(ctx, it.ID, now(), "")
}

var sourceCategories = []string{"requirements", "decision", "discussion", "status", "other"}

type classificationAgent struct{}

func (classificationAgent) Name() string            { return "classification" }
func (classificationAgent) Stage() domain.RunStatus { return domain.StatusClassifying }

func (a classificationAgent) Run(ctx context.Context, rc *RunContext) error {
	var reply struct {
		Sources []struct {
			ID       string `json:"id"`
			Category string `json:"category"`
			Relevant bool   `json:"relevant"`
		} `json:"sources"`
	}
	err := rc.askJSON(ctx, "classify_sources",
		`Classify each source. Return {"sources":[{"id":"...","category":"requirements|decision|discussion|status|other","relevant":true}]}.
A source is relevant when it carries requirements, decisions, stakeholders or dates for the project.`,
		sourceMaterial(rc.Sources, rc.MaxSourceChars), &reply)
	if err != nil {
		return err
	}
	byID := map[string]int{}
	for i, s := range rc.Sources {
		byID[s.ID] = i
	}
	var relevant []domain.Source
	for _, c := range reply.Sources {
		i, ok := byID[c.ID]
		if !ok {
			continue
		}
		category, ok := oneOf(c.Category, sourceCategories...)
		if !ok {
			category = "other"
		}
		if err := rc.Repo.UpdateSourceClassification(ctx, c.ID, category, c.Relevant); err != nil {
			return err
		}
		rc.Sources[i].Category = category
		if c.Relevant {
			relevant = append(relevant, rc.Sources[i])
		}
	}
	if len(relevant) == 0 {
		rc.Logf(a.Name(), domain.LevelWarn, "No source classified as relevant; using all %d sources", len(rc.Sources))
		return nil
	}
	rc.Logf(a.Name(), domain.LevelInfo, "%d of %d sources relevant", len(relevant), len(rc.Sources))
	rc.Sources = relevant
	return nil
}

type requirementsAgent struct{}

func (requirementsAgent) Name() string            { return "requirements" }
func (requirementsAgent) Stage() domain.RunStatus { return domain.StatusExtractingRequirements }

func (a requirementsAgent) Run(ctx context.Context, rc *RunContext) error {
	var reply struct {
		Requirements []struct {
			Title       string  `json:"title"`
			Description string  `json:"description"`
			Type        string  `json:"type"`
			Priority    string  `json:"priority"`
			Confidence  float64 `json:"confidence"`
			SourceID    string  `json:"source_id"`
		} `json:"requirements"`
	}
	err := rc.askJSON(ctx, "extract_requirements",
		`Extract requirements. Return {"requirements":[{"title":"...","description":"...","type":"functional|non_functional|business|technical","priority":"high|medium|low","confidence":0.0,"source_id":"..."}]}.`,
		sourceMaterial(rc.Sources, rc.MaxSourceChars), &reply)
	if err != nil {
		return err
	}
	known := sourceIDs(rc.Sources)
	seen := map[string]bool{}
	for _, r := range reply.Requirements {
		title := strings.TrimSpace(r.Title)
		if title == "" {
			continue
		}
		id := EntityID(rc.projectID(), "requirement", title)
		if seen[id] {
			continue
		}
		seen[id] = true
		typ, ok := oneOf(r.Type, "functional", "non_functional", "business", "technical")
		if !ok {
			typ = "functional"
		}
		priority, ok := oneOf(r.Priority, "high", "medium", "low")
		if !ok {
			priority = "medium"
		}
		confidence := r.Confidence
		if confidence < 0 {
			confidence = 0
		}
		if confidence > 1 {
			confidence = 1
		}
		sourceID := r.SourceID
		if !known[sourceID] {
			sourceID = ""
		}
		if err := rc.Repo.UpsertRequirement(ctx, nil, domain.Requirement{
			ID: id, ProjectID: rc.projectID(), RunID: rc.Run.ID, Title: title, Description: strings.TrimSpace(r.Description),
			Type: typ, Priority: priority, Confidence: confidence, SourceID: sourceID, CreatedAt: rc.now(),
		}); err != nil {
			return err
		}
	}
	rc.Counts.Requirements = len(seen)
	rc.Logf(a.Name(), domain.LevelInfo, "Extracted %d requirements", len(seen))
	return nil
}

var levels = []string{"high", "medium", "low"}

type stakeholdersAgent struct{}

func (stakeholdersAgent) Name() string            { return "stakeholders" }
func (stakeholdersAgent) Stage() domain.RunStatus { return domain.StatusExtractingStakeholders }

func (a stakeholdersAgent) Run(ctx context.Context, rc *RunContext) error {
	var reply struct {
		Stakeholders []struct {
			Name      string `json:"name"`
			Role      string `json:"role"`
			Influence string `json:"influence"`
			Interest  string `json:"interest"`
		} `json:"stakeholders"`
	}
	err := rc.askJSON(ctx, "extract_stakeholders",
		`Identify stakeholders. Return {"stakeholders":[{"name":"...","role":"...","influence":"high|medium|low","interest":"high|medium|low"}]}.`,
		sourceMaterial(rc.Sources, rc.MaxSourceChars), &reply)
	if err != nil {
		return err
	}
	seen := map[string]bool{}
	for _, s := range reply.Stakeholders {
		name := strings.TrimSpace(s.Name)
		if name == "" {
			continue
		}
		id := EntityID(rc.projectID(), "stakeholder", name)
		if seen[id] {
			continue
		}
		seen[id] = true
		influence, _ := oneOf(s.Influence, levels...)
		interest, _ := oneOf(s.Interest, levels...)
		if err := rc.Repo.UpsertStakeholder(ctx, nil, domain.Stakeholder{
			ID: id, ProjectID: rc.projectID(), RunID: rc.Run.ID, Name: name, Role: strings.TrimSpace(s.Role),
			Influence: influence, Interest: interest, CreatedAt: rc.now(),
		}); err != nil {
			return err
		}
	}
	rc.Counts.Stakeholders = len(seen)
	rc.Logf(a.Name(), domain.LevelInfo, "Identified %d stakeholders", len(seen))
	return nil
}

type decisionsAgent struct{}

func (decisionsAgent) Name() string            { return "decisions" }
func (decisionsAgent) Stage() domain.RunStatus { return domain.StatusExtractingDecisions }

func (a decisionsAgent) Run(ctx context.Context, rc *RunContext) error {
	var reply struct {
		Decisions []struct {
			Title     string `json:"title"`
			Decision  string `json:"decision"`
			Rationale string `json:"rationale"`
			DecidedBy string `json:"decided_by"`
			SourceID  string `json:"source_id"`
		} `json:"decisions"`
	}
	err := rc.askJSON(ctx, "extract_decisions",
		`Extract decisions that were made. Return {"decisions":[{"title":"...","decision":"...","rationale":"...","decided_by":"...","source_id":"..."}]}.`,
		sourceMaterial(rc.Sources, rc.MaxSourceChars), &reply)
	if err != nil {
		return err
	}
	known := sourceIDs(rc.Sources)
	seen := map[string]bool{}
	for _, d := range reply.Decisions {
		title := strings.TrimSpace(d.Title)
		text := strings.TrimSpace(d.Decision)
		if title == "" || text == "" {
			continue
		}
		id := EntityID(rc.projectID(), "decision", title)
		if seen[id] {
			continue
		}
		seen[id] = true
		sourceID := d.SourceID
		if !known[sourceID] {
			sourceID = ""
		}
		if err := rc.Repo.UpsertDecision(ctx, nil, domain.Decision{
			ID: id, ProjectID: rc.projectID(), RunID: rc.Run.ID, Title: title, Decision: text,
			Rationale: strings.TrimSpace(d.Rationale), DecidedBy: strings.TrimSpace(d.DecidedBy), SourceID: sourceID, CreatedAt: rc.now(),
		}); err != nil {
			return err
		}
	}
	rc.Counts.Decisions = len(seen)
	rc.Logf(a.Name(), domain.LevelInfo, "Extracted %d decisions", len(seen))
	return nil
}

type timelineAgent struct{}

func (timelineAgent) Name() string            { return "timeline" }
func (timelineAgent) Stage() domain.RunStatus { return domain.StatusExtractingTimeline }

func (a timelineAgent) Run(ctx context.Context, rc *RunContext) error {
	var reply struct {
		Events []struct {
			Date        string `json:"date"`
			Title       string `json:"title"`
			Description string `json:"description"`
		} `json:"events"`
	}
	err := rc.askJSON(ctx, "extract_timeline",
		`List dated project events. Return {"events":[{"date":"YYYY-MM-DD","title":"...","description":"..."}]}.`,
		sourceMaterial(rc.Sources, rc.MaxSourceChars), &reply)
	if err != nil {
		return err
	}
	stored := 0
	for _, ev := range reply.Events {
		title := strings.TrimSpace(ev.Title)
		date, ok := normalizeDate(ev.Date)
		if title == "" || !ok {
			rc.Logf(a.Name(), domain.LevelWarn, "Skipped timeline event %q with date %q", title, ev.Date)
			continue
		}
		if err := rc.Repo.UpsertTimelineEvent(ctx, nil, domain.TimelineEvent{
			ID: EntityID(rc.projectID(), "timeline", date, title), ProjectID: rc.projectID(), RunID: rc.Run.ID,
			Date: date, Title: title, Description: strings.TrimSpace(ev.Description), CreatedAt: rc.now(),
		}); err != nil {
			return err
		}
		stored++
	}
	rc.Logf(a.Name(), domain.LevelInfo, "Recorded %d timeline events", stored)
	return nil
}

func normalizeDate(s string) (string, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{"2006-01-02", time.RFC3339, "2006-01"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02"), true
		}
	}
	return "", false
}

type conflictsAgent struct{}

func (conflictsAgent) Name() string            { return "conflicts" }
func (conflictsAgent) Stage() domain.RunStatus { return domain.StatusDetectingConflicts }

func (a conflictsAgent) Run(ctx context.Context, rc *RunContext) error {
	reqs, err := rc.Repo.ListRequirements(ctx, rc.projectID())
	if err != nil {
		return err
	}
	if len(reqs) < 2 {
		rc.Logf(a.Name(), domain.LevelInfo, "Fewer than two requirements; nothing to compare")
		return nil
	}
	var material strings.Builder
	known := map[string]bool{}
	for _, r := range reqs {
		known[r.ID] = true
		fmt.Fprintf(&material, "[requirement %s] %s: %s\n", r.ID, r.Title, r.Description)
	}
	var reply struct {
		Conflicts []struct {
			Title          string   `json:"title"`
			Description    string   `json:"description"`
			Severity       string   `json:"severity"`
			RequirementIDs []string `json:"requirement_ids"`
		} `json:"conflicts"`
	}
	err = rc.askJSON(ctx, "detect_conflicts",
		`Find requirements that contradict each other. Return {"conflicts":[{"title":"...","description":"...","severity":"critical|major|minor","requirement_ids":["...","..."]}]}.`,
		material.String(), &reply)
	if err != nil {
		return err
	}
	found := 0
	for _, c := range reply.Conflicts {
		title := strings.TrimSpace(c.Title)
		var ids []string
		seen := map[string]bool{}
		for _, id := range c.RequirementIDs {
			if known[id] && !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
		if title == "" || len(ids) < 2 {
			continue
		}
		sort.Strings(ids)
		severity, ok := oneOf(c.Severity, "critical", "major", "minor")
		if !ok {
			severity = string(domain.SeverityMajor)
		}
		if err := rc.Repo.InsertConflict(ctx, nil, domain.Conflict{
			ID:             EntityID(rc.projectID(), "conflict", append([]string{title}, ids...)...),
			ProjectID:      rc.projectID(),
			RunID:          rc.Run.ID,
			Title:          title,
			Description:    strings.TrimSpace(c.Description),
			Severity:       domain.Severity(severity),
			Status:         domain.ConflictDetected,
			RequirementIDs: ids,
			DetectedAt:     rc.now(),
		}); err != nil {
			return err
		}
		found++
	}
	rc.Counts.Conflicts = found
	rc.Logf(a.Name(), domain.LevelInfo, "Detected %d conflicts", found)
	return nil
}

type traceabilityAgent struct{}

func (traceabilityAgent) Name() string            { return "traceability" }
func (traceabilityAgent) Stage() domain.RunStatus { return domain.StatusBuildingTraceability }

// Run links requirements to their source, to decisions that mention them and to
// stakeholders named in the requirement's source.
func (a traceabilityAgent) Run(ctx context.Context, rc *RunContext) error {
	pid := rc.projectID()
	reqs, err := rc.Repo.ListRequirements(ctx, pid)
	if err != nil {
		return err
	}
	decisions, err := rc.Repo.ListDecisions(ctx, pid)
	if err != nil {
		return err
	}
	stakeholders, err := rc.Repo.ListStakeholders(ctx, pid)
	if err != nil {
		return err
	}
	sources, err := rc.Repo.ListSources(ctx, pid)
	if err != nil {
		return err
	}
	content := map[string]string{}
	for _, s := range sources {
		content[s.ID] = strings.ToLower(s.Content)
	}
	links := 0
	add := func(reqID, kind, target string) error {
		inserted, err := rc.Repo.InsertTraceLink(ctx, nil, domain.TraceLink{ProjectID: pid, RequirementID: reqID, TargetKind: kind, TargetID: target})
		if inserted {
			links++
		}
		return err
	}
	for _, r := range reqs {
		if err := ctx.Err(); err != nil {
			return err
		}
		title := strings.ToLower(r.Title)
		if r.SourceID != "" {
			if err := add(r.ID, "source", r.SourceID); err != nil {
				return err
			}
			text := content[r.SourceID]
			for _, s := range stakeholders {
				if text != "" && strings.Contains(text, strings.ToLower(s.Name)) {
					if err := add(r.ID, "stakeholder", s.ID); err != nil {
						return err
					}
				}
			}
		}
		for _, d := range decisions {
			text := strings.ToLower(d.Title + " " + d.Decision + " " + d.Rationale)
			if strings.Contains(text, title) || (d.SourceID != "" && d.SourceID == r.SourceID) {
				if err := add(r.ID, "decision", d.ID); err != nil {
					return err
				}
			}
		}
	}
	rc.Logf(a.Name(), domain.LevelInfo, "Built %d trace links", links)
	return nil
}

type documentsAgent struct{}

func (documentsAgent) Name() string            { return "documents" }
func (documentsAgent) Stage() domain.RunStatus { return domain.StatusGeneratingDocuments }

func (a documentsAgent) Run(ctx context.Context, rc *RunContext) error {
	pid := rc.projectID()
	project, err := rc.Repo.GetProject(ctx, pid)
	if err != nil {
		return err
	}
	reqs, err := rc.Repo.ListRequirements(ctx, pid)
	if err != nil {
		return err
	}
	stakeholders, err := rc.Repo.ListStakeholders(ctx, pid)
	if err != nil {
		return err
	}
	decisions, err := rc.Repo.ListDecisions(ctx, pid)
	if err != nil {
		return err
	}
	timeline, err := rc.Repo.ListTimeline(ctx, pid)
	if err != nil {
		return err
	}
	conflictList, err := rc.Repo.ListConflicts(ctx, pid)
	if err != nil {
		return err
	}

	var material strings.Builder
	fmt.Fprintf(&material, "Project: %s\n%s\n\n", project.Name, project.Description)
	for _, r := range reqs {
		fmt.Fprintf(&material, "- requirement (%s, %s): %s\n", r.Type, r.Priority, r.Title)
	}
	for _, d := range decisions {
		fmt.Fprintf(&material, "- decision: %s: %s\n", d.Title, d.Decision)
	}
	var reply struct {
		Summary string `json:"summary"`
	}
	if err := rc.askJSON(ctx, "write_summary",
		`Write a short executive summary for a Business Requirements Document. Return {"summary":"..."}.`,
		material.String(), &reply); err != nil {
		return err
	}

	var functional, other []string
	for _, r := range reqs {
		line := fmt.Sprintf("%s (%s priority)", r.Title, r.Priority)
		if r.Description != "" {
			line += ": " + r.Description
		}
		if r.Type == "functional" {
			functional = append(functional, line)
		} else {
			other = append(other, fmt.Sprintf("[%s] %s", r.Type, line))
		}
	}
	var people []string
	for _, s := range stakeholders {
		line := s.Name
		if s.Role != "" {
			line += ", " + s.Role
		}
		people = append(people, line)
	}
	var decided []string
	for _, d := range decisions {
		decided = append(decided, fmt.Sprintf("%s: %s", d.Title, d.Decision))
	}
	var dated []string
	for _, ev := range timeline {
		dated = append(dated, fmt.Sprintf("%s: %s", ev.Date, ev.Title))
	}
	var open []string
	for _, c := range conflictList {
		if !c.Status.Settled() {
			open = append(open, fmt.Sprintf("[%s] %s", c.Severity, c.Title))
		}
	}
	doc := brd.Document{
		ID:        uuid.NewString(),
		ProjectID: pid,
		RunID:     rc.Run.ID,
		Title:     project.Name + " Business Requirements Document",
		CreatedAt: rc.now(),
		Sections: []brd.Section{
			{Key: "summary", Heading: "Executive Summary", Content: brd.Text(strings.TrimSpace(reply.Summary))},
			{Key: "scope", Heading: "Project Scope", Content: brd.Object(
				brd.Field{Key: "Project", Value: project.Name},
				brd.Field{Key: "Sources analysed", Value: fmt.Sprint(rc.Counts.Sources)},
				brd.Field{Key: "Generated", Value: rc.now()},
			)},
			{Key: "stakeholders", Heading: "Stakeholders", Content: brd.List(people...)},
			{Key: "functional", Heading: "Functional Requirements", Content: brd.List(functional...)},
			{Key: "non_functional", Heading: "Other Requirements", Content: brd.List(other...)},
			{Key: "decisions", Heading: "Decisions", Content: brd.List(decided...)},
			{Key: "timeline", Heading: "Timeline", Content: brd.List(dated...)},
			{Key: "open_conflicts", Heading: "Open Conflicts", Content: brd.List(open...)},
		},
	}
	if err := doc.Validate(); err != nil {
		return err
	}
	version, err := rc.Repo.InsertDocument(ctx, nil, doc)
	if err != nil {
		return err
	}
	rc.Logf(a.Name(), domain.LevelInfo, "Generated BRD version %d", version)
	return nil
}
