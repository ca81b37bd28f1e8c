// Package clix holds flag parsing helpers shared by the CLI commands.
package clix

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"

	"skald/internal/models"
)

type PaginationParams struct {
	Limit  int
	Offset int
}

func ParsePagination(flags *pflag.FlagSet) (PaginationParams, error) {
	limit, _ := flags.GetInt("limit")
	offset, _ := flags.GetInt("offset")
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return PaginationParams{Limit: limit, Offset: offset}, nil
}

// JobFilter narrows a job listing.
type JobFilter struct {
	Status models.JobStatus
	Kind   models.JobKind
	Query  string
}

// ParseJobFilter reads --status, --kind and --query. Unknown values are rejected.
func ParseJobFilter(flags *pflag.FlagSet) (JobFilter, error) {
	status, _ := flags.GetString("status")
	kind, _ := flags.GetString("kind")
	query, _ := flags.GetString("query")

	f := JobFilter{Query: strings.TrimSpace(query)}
	if status = strings.ToLower(strings.TrimSpace(status)); status != "" {
		switch s := models.JobStatus(status); s {
		case models.JobStatusPending, models.JobStatusProcessing, models.JobStatusCompleted, models.JobStatusFailed:
			f.Status = s
		default:
			return JobFilter{}, fmt.Errorf("invalid status %q (want pending, processing, completed or failed)", status)
		}
	}
	if kind = strings.ToLower(strings.TrimSpace(kind)); kind != "" {
		switch k := models.JobKind(kind); k {
		case models.JobKindTranscription, models.JobKindConversion:
			f.Kind = k
		default:
			return JobFilter{}, fmt.Errorf("invalid kind %q (want transcription or conversion)", kind)
		}
	}
	return f, nil
}

// AddPaginationFlags registers --limit and --offset.
func AddPaginationFlags(flags *pflag.FlagSet) {
	flags.Int("limit", 20, "Maximum number of rows to show")
	flags.Int("offset", 0, "Number of rows to skip")
}
