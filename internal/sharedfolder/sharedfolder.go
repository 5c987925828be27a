// Package sharedfolder implements the shared-file folder tree (spec §3 "SharedFolder"/"SharedFile"): a
// server-wide, permission-gated filing cabinet independent of the channel tree. Folders nest under an optional
// parent, forming an acyclic tree rooted at nil; files optionally belong to a folder. Access is resolved by
// internal/permission.Resolver.ResolveSharedItemAccess, which walks the folder ancestor chain the same way
// compute walks the category/channel chain.
package sharedfolder

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Sentinel errors for the sharedfolder package.
var (
	ErrFolderNotFound = errors.New("shared folder not found")
	ErrFileNotFound    = errors.New("shared file not found")
	ErrNameRequired    = errors.New("name must not be empty")
	ErrNameTooLong     = errors.New("name exceeds the maximum length")
	ErrQuotaExceeded   = errors.New("shared storage quota exceeded")
)

// MaxNameLength bounds folder and file display names.
const MaxNameLength = 255

// Folder is a node in the shared-file tree.
type Folder struct {
	ID             uuid.UUID
	ParentFolderID *uuid.UUID
	Name           string
	CreatorID      uuid.UUID
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// File is a single uploaded file, optionally placed in a folder (nil means the tree root).
type File struct {
	ID          uuid.UUID
	FolderID    *uuid.UUID
	Name        string
	UploaderID  uuid.UUID
	ContentType string
	SizeBytes   int64
	StorageKey  string
	CreatedAt   time.Time
}

// CreateFolderParams groups the inputs for creating a folder.
type CreateFolderParams struct {
	ParentFolderID *uuid.UUID
	Name           string
	CreatorID      uuid.UUID
}

// CreateFileParams groups the inputs for registering an uploaded file.
type CreateFileParams struct {
	FolderID    *uuid.UUID
	Name        string
	UploaderID  uuid.UUID
	ContentType string
	SizeBytes   int64
	StorageKey  string
}

// ValidateName trims and bounds a folder or file display name.
func ValidateName(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "", ErrNameRequired
	}
	if utf8.RuneCountInString(trimmed) > MaxNameLength {
		return "", ErrNameTooLong
	}
	return trimmed, nil
}

// Repository defines the data-access contract for the shared-file tree.
type Repository interface {
	CreateFolder(ctx context.Context, params CreateFolderParams) (*Folder, error)
	GetFolder(ctx context.Context, id uuid.UUID) (*Folder, error)
	// ListFolders returns the immediate child folders of parentID (nil lists root-level folders), ordered by name.
	ListFolders(ctx context.Context, parentID *uuid.UUID) ([]Folder, error)
	// DeleteFolder recursively deletes folderID and every descendant folder/file, returning the storage keys of
	// every deleted file so the caller can remove the underlying bytes.
	DeleteFolder(ctx context.Context, id uuid.UUID) (storageKeys []string, err error)

	CreateFile(ctx context.Context, params CreateFileParams) (*File, error)
	GetFile(ctx context.Context, id uuid.UUID) (*File, error)
	// ListFiles returns the files directly in folderID (nil lists root-level files), ordered by name.
	ListFiles(ctx context.Context, folderID *uuid.UUID) ([]File, error)
	DeleteFile(ctx context.Context, id uuid.UUID) (*File, error)

	// TotalStorageBytes sums size_bytes across every shared file, for global quota enforcement.
	TotalStorageBytes(ctx context.Context) (int64, error)
}
