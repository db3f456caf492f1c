// Package domain defines the business logic behind sharing, restoring and feedback.
package domain

import (
	"context"
	"errors"
	"strings"

	"github.com/ahsanshehayr-ship-it/calculator-Pro-Tools/internal/backup"
	"github.com/ahsanshehayr-ship-it/calculator-Pro-Tools/internal/catalog"
	"github.com/ahsanshehayr-ship-it/calculator-Pro-Tools/internal/observability"
)

// Messages shown to people following a share link or uploading a backup.
const (
	MessageMissingBackup = "No backup data found in the link."
	MessageUnknownTool   = "The calculator specified in the backup link does not exist."
	MessageInvalidBackup = "Invalid or corrupted backup link."
)

// ToolCatalog resolves calculator slugs.
type ToolCatalog interface {
	Lookup(slug string) (catalog.Tool, error)
}

// ShareInput is a finished calculation the user wants to share or download.
type ShareInput struct {
	ToolID     string
	Inputs     map[string]any
	ResultText string
}

// ShareLink is a generated share token together with its full URL.
type ShareLink struct {
	Token  string
	URL    string
	Record backup.Record
}

// BackupFile is a rendered downloadable backup.
type BackupFile struct {
	FileName string
	Content  []byte
}

// Restored is a decoded backup ready to be loaded into its calculator.
type Restored struct {
	Record       backup.Record
	Tool         catalog.Tool
	RedirectPath string
}

// ShareService builds share links and backup files and restores them.
type ShareService struct {
	codec   *backup.Codec
	tools   ToolCatalog
	baseURL string
}

// NewShareService constructs a ShareService. baseURL is the public origin and path of
// the web client that share links point at.
func NewShareService(codec *backup.Codec, tools ToolCatalog, baseURL string) *ShareService {
	return &ShareService{codec: codec, tools: tools, baseURL: baseURL}
}

// CreateShare encodes input into a share link.
func (s *ShareService) CreateShare(ctx context.Context, input ShareInput) (*ShareLink, error) {
	record, err := s.newRecord(input)
	if err != nil {
		return nil, err
	}
	token, err := s.codec.Encode(record)
	if err != nil {
		return nil, err
	}
	observability.RecordShareCreated(record.ToolID)
	return &ShareLink{
		Token:  token,
		URL:    backup.Link(s.baseURL, token),
		Record: record,
	}, nil
}

// Download renders input as a backup file.
func (s *ShareService) Download(ctx context.Context, input ShareInput) (*BackupFile, error) {
	record, err := s.newRecord(input)
	if err != nil {
		return nil, err
	}
	content, err := s.codec.MarshalFile(record)
	if err != nil {
		return nil, err
	}
	observability.RecordBackupDownload(record.ToolID)
	return &BackupFile{FileName: backup.FileName(record), Content: content}, nil
}

// Restore decodes a share token. Decode failures are returned as *backup.DecodeError.
func (s *ShareService) Restore(ctx context.Context, token string) (*Restored, error) {
	record, err := s.codec.Decode(token)
	return s.restored(record, err)
}

// RestoreFile restores a previously downloaded backup file.
func (s *ShareService) RestoreFile(ctx context.Context, data []byte) (*Restored, error) {
	record, err := s.codec.UnmarshalFile(data)
	return s.restored(record, err)
}

func (s *ShareService) restored(record backup.Record, err error) (*Restored, error) {
	if err != nil {
		kind, _ := backup.KindOf(err)
		observability.RecordRestore(kind.String())
		return nil, err
	}
	tool, err := s.tools.Lookup(record.ToolID)
	if err != nil {
		// The catalog changed between decode and lookup.
		observability.RecordRestore(backup.KindUnknownTool.String())
		return nil, &backup.DecodeError{Kind: backup.KindUnknownTool, Err: err}
	}
	observability.RecordRestore("ok")
	return &Restored{
		Record:       record,
		Tool:         tool,
		RedirectPath: "/calculators/" + tool.Slug,
	}, nil
}

func (s *ShareService) newRecord(input ShareInput) (backup.Record, error) {
	if strings.TrimSpace(input.ResultText) == "" {
		return backup.Record{}, ErrEmptyResult
	}
	if _, err := s.tools.Lookup(input.ToolID); err != nil {
		if errors.Is(err, catalog.ErrToolNotFound) {
			return backup.Record{}, ErrUnknownTool
		}
		return backup.Record{}, err
	}
	return s.codec.NewRecord(input.ToolID, input.Inputs, input.ResultText)
}

// UserMessage maps a restore failure to the text shown to the user.
func UserMessage(err error) string {
	switch {
	case errors.Is(err, backup.ErrMissing):
		return MessageMissingBackup
	case errors.Is(err, backup.ErrUnknownTool):
		return MessageUnknownTool
	default:
		return MessageInvalidBackup
	}
}
