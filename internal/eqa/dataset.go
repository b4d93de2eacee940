// Package eqa runs embodied question-answering episodes: it owns the
// per-episode resources, the observe/fuse/score/plan loop, the answer
// aggregation, and the worker orchestration around them.
package eqa

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"
)

// Question is one multiple-choice question bound to a scene floor.
type Question struct {
	Scene    string
	Floor    string
	Question string
	Choices  []string
	Answer   string // the correct answer letter, "A".."D"
}

// SceneFloor returns the scene_floor key used by the initial-pose table.
func (q Question) SceneFloor() string { return q.Scene + "_" + q.Floor }

// PromptQuestion formats the question with lettered choices the way the
// scorer is prompted.
func (q Question) PromptQuestion() string {
	var b strings.Builder
	b.WriteString(q.Question)
	for i, choice := range q.Choices {
		if i >= len(AnswerLetters) {
			break
		}
		b.WriteString("\n" + AnswerLetters[i] + ". " + choice)
	}
	return b.String()
}

// InitPose is the starting pose for a scene floor, simulator frame.
type InitPose struct {
	Pos   r3.Vec
	Angle float64
}

// LoadQuestions reads the question table: columns scene, floor, question,
// choices (a quoted Python-style list), answer.
func LoadQuestions(path string) ([]Question, error) {
	rows, err := readCSV(path)
	if err != nil {
		return nil, err
	}
	out := make([]Question, 0, len(rows))
	for i, row := range rows {
		choices, err := parseChoices(row["choices"])
		if err != nil {
			return nil, fmt.Errorf("row %d of %s: %w", i, path, err)
		}
		q := Question{
			Scene:    row["scene"],
			Floor:    row["floor"],
			Question: row["question"],
			Choices:  choices,
			Answer:   strings.TrimSpace(row["answer"]),
		}
		if q.Scene == "" || q.Question == "" || q.Answer == "" {
			return nil, fmt.Errorf("row %d of %s: missing scene, question, or answer", i, path)
		}
		out = append(out, q)
	}
	return out, nil
}

// LoadInitPoses reads the initial-pose table: columns scene_floor, init_x,
// init_y, init_z, init_angle. Keys are scene_floor strings.
func LoadInitPoses(path string) (map[string]InitPose, error) {
	rows, err := readCSV(path)
	if err != nil {
		return nil, err
	}
	out := make(map[string]InitPose, len(rows))
	for i, row := range rows {
		var pose InitPose
		var errs [4]error
		pose.Pos.X, errs[0] = strconv.ParseFloat(strings.TrimSpace(row["init_x"]), 64)
		pose.Pos.Y, errs[1] = strconv.ParseFloat(strings.TrimSpace(row["init_y"]), 64)
		pose.Pos.Z, errs[2] = strconv.ParseFloat(strings.TrimSpace(row["init_z"]), 64)
		pose.Angle, errs[3] = strconv.ParseFloat(strings.TrimSpace(row["init_angle"]), 64)
		for _, e := range errs {
			if e != nil {
				return nil, fmt.Errorf("row %d of %s: %w", i, path, e)
			}
		}
		key := row["scene_floor"]
		if key == "" {
			return nil, fmt.Errorf("row %d of %s: empty scene_floor key", i, path)
		}
		out[key] = pose
	}
	return out, nil
}

// readCSV loads a CSV file into header-keyed rows, trimming the leading
// space the reference data files carry after commas.
func readCSV(path string) ([]map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if len(records) < 1 {
		return nil, fmt.Errorf("%s has no header row", path)
	}
	header := records[0]
	rows := make([]map[string]string, 0, len(records)-1)
	for _, rec := range records[1:] {
		row := make(map[string]string, len(header))
		for i, col := range header {
			if i < len(rec) {
				row[strings.TrimSpace(col)] = rec[i]
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// parseChoices extracts the option texts from a Python-style list literal,
// e.g. `['a sofa', 'a chair']`. Options may contain commas but not single
// quotes, matching the dataset format.
func parseChoices(s string) ([]string, error) {
	var out []string
	inQuote := false
	var cur strings.Builder
	for _, r := range s {
		switch {
		case r == '\'':
			if inQuote {
				out = append(out, cur.String())
				cur.Reset()
			}
			inQuote = !inQuote
		case inQuote:
			cur.WriteRune(r)
		}
	}
	if inQuote {
		return nil, fmt.Errorf("unterminated quote in choices %q", s)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no choices found in %q", s)
	}
	return out, nil
}
