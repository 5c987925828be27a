package models

// SharedFolder is the protocol representation of a shared-file folder.
type SharedFolder struct {
	ID             string `json:"id"`
	ParentFolderID *string `json:"parent_folder_id"`
	Name           string `json:"name"`
	CreatorID      string `json:"creator_id"`
	CreatedAt      string `json:"created_at"`
	UpdatedAt      string `json:"updated_at"`
}

// SharedFile is the protocol representation of a shared file.
type SharedFile struct {
	ID          string  `json:"id"`
	FolderID    *string `json:"folder_id"`
	Name        string  `json:"name"`
	UploaderID  string  `json:"uploader_id"`
	URL         string  `json:"url"`
	ContentType string  `json:"content_type"`
	SizeBytes   int64   `json:"size_bytes"`
	CreatedAt   string  `json:"created_at"`
}

// CreateSharedFolderRequest is the request body for POST /shared/folders.
type CreateSharedFolderRequest struct {
	ParentFolderID *string `json:"parent_folder_id"`
	Name           string  `json:"name"`
}
