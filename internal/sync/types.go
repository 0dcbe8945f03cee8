// Package sync reconciles platform donors with the contacts in an account's managed Google contact group.
package sync

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// LogStatus is the lifecycle state of a sync run.
type LogStatus string

const (
	// LogStatusCompleted marks a run that reached the end of every pass.
	LogStatusCompleted LogStatus = "completed"

	// LogStatusFailed marks a run that aborted during setup.
	LogStatusFailed LogStatus = "failed"

	// LogStatusStarted marks a run in progress.
	LogStatusStarted LogStatus = "started"
)

// MappingStatus is the reconciliation state of a donor/contact pair.
type MappingStatus string

const (
	// MappingStatusConflict marks a pair left unresolved under the manual policy.
	MappingStatusConflict MappingStatus = "conflict"

	// MappingStatusError marks a pair whose last reconciliation failed or whose donor is gone.
	MappingStatusError MappingStatus = "error"

	// MappingStatusPending marks a pair that has not been reconciled yet.
	MappingStatusPending MappingStatus = "pending"

	// MappingStatusSynced marks a pair whose sides agreed at the end of the last reconciliation.
	MappingStatusSynced MappingStatus = "synced"
)

// Policy decides which side wins when both changed since the last reconciliation.
type Policy string

const (
	// PolicyExternalWins always writes the Google contact over the donor.
	PolicyExternalWins Policy = "external_wins"

	// PolicyManual records the conflict without writing either side.
	PolicyManual Policy = "manual"

	// PolicyNewestWins writes the side with the most recent modification time.
	PolicyNewestWins Policy = "newest_wins"

	// PolicyPlatformWins always writes the donor over the Google contact.
	PolicyPlatformWins Policy = "platform_wins"
)

// ParsePolicy parses a policy name. An empty name selects PolicyPlatformWins.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PolicyPlatformWins, nil
	case PolicyExternalWins, PolicyManual, PolicyNewestWins, PolicyPlatformWins:
		return p, nil
	default:
		return "", fmt.Errorf("unknown conflict resolution policy %q", s)
	}
}

// Trigger identifies what started a sync run.
type Trigger string

const (
	// TriggerInitial is the first run after an account connects.
	TriggerInitial Trigger = "initial"

	// TriggerManual is a run requested through the API.
	TriggerManual Trigger = "manual"

	// TriggerScheduled is a run started by the periodic scheduler.
	TriggerScheduled Trigger = "scheduled"
)

// Winner is the side whose data is written over the other.
type Winner string

const (
	// WinnerExternal writes the Google contact over the donor.
	WinnerExternal Winner = "external"

	// WinnerNone leaves both sides untouched.
	WinnerNone Winner = "none"

	// WinnerPlatform writes the donor over the Google contact.
	WinnerPlatform Winner = "platform"
)

// Mapping links one platform donor to one Google contact.
type Mapping struct {
	// AccountID is the owning account.
	AccountID string

	// DonorID is the platform donor identifier.
	DonorID string

	// ETag is the contact's revision tag as of the last reconciliation.
	ETag string

	// ExternalHash is the contact's fingerprint as of the last reconciliation.
	ExternalHash string

	// LastSyncedAt is when the pair was last reconciled.
	LastSyncedAt time.Time

	// PlatformHash is the donor's fingerprint as of the last reconciliation.
	PlatformHash string

	// ResourceName is the contact's resource name, e.g. people/c123.
	ResourceName string

	// Status is the reconciliation state of the pair.
	Status MappingStatus
}

// Log is the audit record of one sync run.
type Log struct {
	// AccountID is the account that was synchronized.
	AccountID string `json:"accountId"`

	// Conflicts is the number of pairs where both sides changed.
	Conflicts int `json:"conflicts"`

	// ContactsPulled is the number of contacts written to the platform.
	ContactsPulled int `json:"contactsPulled"`

	// DonorsPushed is the number of donors written to Google.
	DonorsPushed int `json:"donorsPushed"`

	// DurationMS is how long the run took, in milliseconds.
	DurationMS int64 `json:"durationMs"`

	// ErrorDetails lists per-item errors and, for failed runs, the setup error.
	ErrorDetails []string `json:"errorDetails"`

	// Errors is the number of per-item errors.
	Errors int `json:"errors"`

	// FinishedAt is when the run ended.
	FinishedAt time.Time `json:"finishedAt,omitzero"`

	// ID identifies the run.
	ID string `json:"id"`

	// StartedAt is when the run started.
	StartedAt time.Time `json:"startedAt"`

	// Status is the run's lifecycle state.
	Status LogStatus `json:"status"`

	// Trigger identifies what started the run.
	Trigger Trigger `json:"trigger"`
}

// newLog returns a started log for the account.
func newLog(accountID string, trigger Trigger, now time.Time) (Log, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Log{}, fmt.Errorf("generating log ID: %w", err)
	}

	return Log{
		AccountID: accountID,
		ID:        id.String(),
		StartedAt: now,
		Status:    LogStatusStarted,
		Trigger:   trigger,
	}, nil
}

// FieldDiff holds both sides' values of a field that differs.
type FieldDiff struct {
	// External is the Google contact's value.
	External string `json:"external"`

	// Field names the differing field.
	Field string `json:"field"`

	// Platform is the donor's value.
	Platform string `json:"platform"`
}

// ConflictDetail describes one pair where both sides changed.
type ConflictDetail struct {
	// DonorID is the platform donor identifier.
	DonorID string `json:"donorId"`

	// DonorName is the donor's display name.
	DonorName string `json:"donorName,omitempty"`

	// Fields lists the differing fields.
	Fields []FieldDiff `json:"fields"`

	// Policy is the policy that was applied.
	Policy Policy `json:"policy"`

	// ResourceName is the contact's resource name.
	ResourceName string `json:"resourceName"`

	// Winner is the side that was written over the other.
	Winner Winner `json:"winner"`
}

// Result contains the outcome of a sync run.
type Result struct {
	// ConflictDetails describes every conflict, resolved or not.
	ConflictDetails []ConflictDetail `json:"conflictDetails"`

	// Conflicts is the number of pairs where both sides changed.
	Conflicts int `json:"conflicts"`

	// ContactsPulled is the number of contacts written to the platform.
	ContactsPulled int `json:"contactsPulled"`

	// DonorsPushed is the number of donors written to Google.
	DonorsPushed int `json:"donorsPushed"`

	// DryRun indicates no writes were made.
	DryRun bool `json:"dryRun,omitempty"`

	// DurationMS is how long the run took, in milliseconds.
	DurationMS int64 `json:"durationMs"`

	// ErrorDetails lists per-item errors, or the setup error of a failed run.
	ErrorDetails []string `json:"errorDetails"`

	// Errors is the number of per-item errors.
	Errors int `json:"errors"`

	// Success is false only when the run failed during setup.
	Success bool `json:"success"`
}

// addError records a per-item error.
func (r *Result) addError(err error) {
	r.Errors++
	r.ErrorDetails = append(r.ErrorDetails, err.Error())
}

// RunOptions configures a single sync run.
type RunOptions struct {
	// AccountID is the account to synchronize.
	AccountID string

	// DryRun classifies without writing anything.
	DryRun bool

	// Policy resolves conflicts. Defaults to PolicyPlatformWins.
	Policy Policy

	// Trigger identifies what started the run. Defaults to TriggerManual.
	Trigger Trigger
}
