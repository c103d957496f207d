// Package report fetches and decodes finished quiz game reports.
package report

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/victornm/levelup/internal/domain"
	"github.com/victornm/levelup/internal/errors"
)

//go:embed schema.json
var schemaJSON []byte

const schemaURL = "schema://game_report.json"

var (
	reportIDPattern = regexp.MustCompile(`game_reports/([\da-z]*)`)

	compileOnce sync.Once
	compiled    *jsonschema.Schema
	compileErr  error
)

// ParseReportID extracts the report id from a finished game's summary.
// Only titles announcing an ended game carry a report.
func ParseReportID(title, text string) (string, bool) {
	if !strings.Contains(title, "Ended") {
		return "", false
	}

	m := reportIDPattern.FindStringSubmatch(text)
	if len(m) < 2 || m[1] == "" {
		return "", false
	}
	return m[1], true
}

// IsUnavailable reports whether err means the report could not be obtained or trusted.
func IsUnavailable(err error) bool {
	return errors.Is(err, errors.CodeNotFound) ||
		errors.Is(err, errors.CodeUnavailable) ||
		errors.Is(err, errors.CodeDataLoss)
}

type wireReport struct {
	Participants []struct {
		ID          string `json:"_id"`
		DiscordUser struct {
			ID       string `json:"id"`
			Username string `json:"username"`
		} `json:"discordUser"`
	} `json:"participants"`
	Scores []struct {
		User  string `json:"user"`
		Score int    `json:"score"`
	} `json:"scores"`
	Questions []json.RawMessage `json:"questions"`
	IsLoaded  bool              `json:"isLoaded"`
	Settings  struct {
		Shuffle             bool    `json:"shuffle"`
		ScoreLimit          int     `json:"scoreLimit"`
		AnswerTimeLimitInMs int     `json:"answerTimeLimitInMs"`
		Font                string  `json:"font"`
		FontSize            flexInt `json:"fontSize"`
		FontColor           string  `json:"fontColor"`
		Effect              string  `json:"effect"`
	} `json:"settings"`
	Decks []struct {
		ShortName  string `json:"shortName"`
		MC         bool   `json:"mc"`
		StartIndex *int   `json:"startIndex"`
		EndIndex   *int   `json:"endIndex"`
	} `json:"decks"`
}

// flexInt accepts a JSON number or a numeric string.
type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}

	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("font size %s: %w", b, err)
	}
	*f = flexInt(n)
	return nil
}

func schema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaJSON))
		if err != nil {
			compileErr = fmt.Errorf("parse schema: %w", err)
			return
		}

		c := jsonschema.NewCompiler()
		if err := c.AddResource(schemaURL, doc); err != nil {
			compileErr = fmt.Errorf("add resource: %w", err)
			return
		}
		compiled, compileErr = c.Compile(schemaURL)
	})
	return compiled, compileErr
}

// Decode validates a raw report body and converts it to a domain.QuizReport.
func Decode(id string, raw []byte) (domain.QuizReport, error) {
	sch, err := schema()
	if err != nil {
		return domain.QuizReport{}, errors.Internal(err)
	}

	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return domain.QuizReport{}, dataLoss(id, err)
	}
	if err := sch.Validate(doc); err != nil {
		return domain.QuizReport{}, dataLoss(id, err)
	}

	var w wireReport
	if err := json.Unmarshal(raw, &w); err != nil {
		return domain.QuizReport{}, dataLoss(id, err)
	}

	return w.toDomain(id), nil
}

func dataLoss(id string, err error) error {
	return errors.New(errors.CodeDataLoss, errors.WithCause(err), errors.WithMessagef("malformed report %s", id))
}

func (w wireReport) toDomain(id string) domain.QuizReport {
	r := domain.QuizReport{
		ID:            id,
		Scores:        make(map[string]int, len(w.Scores)),
		QuestionCount: len(w.Questions),
		Loaded:        w.IsLoaded,
		Settings: domain.ReportSettings{
			Shuffle:           w.Settings.Shuffle,
			Font:              w.Settings.Font,
			FontSize:          int(w.Settings.FontSize),
			FontColor:         w.Settings.FontColor,
			Effect:            w.Settings.Effect,
			ScoreLimit:        w.Settings.ScoreLimit,
			AnswerTimeLimitMs: w.Settings.AnswerTimeLimitInMs,
		},
	}

	byRef := make(map[string]string, len(w.Participants))
	for _, p := range w.Participants {
		r.Participants = append(r.Participants, p.DiscordUser.ID)
		byRef[p.DiscordUser.ID] = p.DiscordUser.ID
		if p.ID != "" {
			byRef[p.ID] = p.DiscordUser.ID
		}
	}

	// scores reference participants; unknown references fall back to position
	for i, s := range w.Scores {
		user, ok := byRef[s.User]
		if !ok && i < len(r.Participants) {
			user = r.Participants[i]
		}
		if user == "" {
			continue
		}
		if _, seen := r.Scores[user]; !seen {
			r.Scores[user] = s.Score
		}
	}

	for _, d := range w.Decks {
		r.Decks = append(r.Decks, domain.Deck{
			ShortName:      d.ShortName,
			MultipleChoice: d.MC,
			StartIndex:     d.StartIndex,
			EndIndex:       d.EndIndex,
		})
	}

	return r
}
