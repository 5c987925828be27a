package sharedfolder

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/ecto-chat/ecto-server/internal/postgres"
)

const folderColumns = `id, parent_folder_id, name, creator_id, created_at, updated_at`
const fileColumns = `id, folder_id, name, uploader_id, content_type, size_bytes, storage_key, created_at`

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a new PostgreSQL-backed shared-folder repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger}
}

func (r *PGRepository) CreateFolder(ctx context.Context, params CreateFolderParams) (*Folder, error) {
	row := r.db.QueryRow(ctx,
		fmt.Sprintf(`INSERT INTO shared_folders (parent_folder_id, name, creator_id)
		 VALUES ($1, $2, $3) RETURNING %s`, folderColumns),
		params.ParentFolderID, params.Name, params.CreatorID,
	)
	folder, err := scanFolder(row)
	if err != nil {
		return nil, fmt.Errorf("insert shared folder: %w", err)
	}
	return folder, nil
}

func (r *PGRepository) GetFolder(ctx context.Context, id uuid.UUID) (*Folder, error) {
	row := r.db.QueryRow(ctx, fmt.Sprintf("SELECT %s FROM shared_folders WHERE id = $1", folderColumns), id)
	folder, err := scanFolder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrFolderNotFound
		}
		return nil, fmt.Errorf("query shared folder: %w", err)
	}
	return folder, nil
}

func (r *PGRepository) ListFolders(ctx context.Context, parentID *uuid.UUID) ([]Folder, error) {
	var rows pgx.Rows
	var err error
	if parentID != nil {
		rows, err = r.db.Query(ctx,
			fmt.Sprintf("SELECT %s FROM shared_folders WHERE parent_folder_id = $1 ORDER BY name ASC", folderColumns),
			*parentID,
		)
	} else {
		rows, err = r.db.Query(ctx,
			fmt.Sprintf("SELECT %s FROM shared_folders WHERE parent_folder_id IS NULL ORDER BY name ASC", folderColumns),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("query shared folders: %w", err)
	}
	defer rows.Close()

	var folders []Folder
	for rows.Next() {
		folder, err := scanFolder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan shared folder: %w", err)
		}
		folders = append(folders, *folder)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate shared folders: %w", err)
	}
	return folders, nil
}

// DeleteFolder recursively deletes id and every descendant folder/file inside a single transaction: it collects
// the descendant folder ids and file storage keys first, strips any shared_item permission overrides targeting
// them (permission_overrides has no FK to shared_folders/shared_files since it backs three different target
// kinds), then deletes the folder itself — ON DELETE CASCADE on shared_folders.parent_folder_id and
// shared_files.folder_id takes care of the descendant rows.
func (r *PGRepository) DeleteFolder(ctx context.Context, id uuid.UUID) ([]string, error) {
	var storageKeys []string

	err := postgres.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		folderRows, err := tx.Query(ctx, `
			WITH RECURSIVE descendants AS (
				SELECT id FROM shared_folders WHERE id = $1
				UNION ALL
				SELECT f.id FROM shared_folders f JOIN descendants d ON f.parent_folder_id = d.id
			)
			SELECT id FROM descendants
		`, id)
		if err != nil {
			return fmt.Errorf("query descendant folders: %w", err)
		}
		var folderIDs []uuid.UUID
		for folderRows.Next() {
			var fid uuid.UUID
			if err := folderRows.Scan(&fid); err != nil {
				folderRows.Close()
				return fmt.Errorf("scan descendant folder: %w", err)
			}
			folderIDs = append(folderIDs, fid)
		}
		folderRows.Close()
		if err := folderRows.Err(); err != nil {
			return fmt.Errorf("iterate descendant folders: %w", err)
		}
		if len(folderIDs) == 0 {
			return ErrFolderNotFound
		}

		fileRows, err := tx.Query(ctx,
			"SELECT id, storage_key FROM shared_files WHERE folder_id = ANY($1)", folderIDs)
		if err != nil {
			return fmt.Errorf("query descendant files: %w", err)
		}
		var fileIDs []uuid.UUID
		for fileRows.Next() {
			var fid uuid.UUID
			var key string
			if err := fileRows.Scan(&fid, &key); err != nil {
				fileRows.Close()
				return fmt.Errorf("scan descendant file: %w", err)
			}
			fileIDs = append(fileIDs, fid)
			storageKeys = append(storageKeys, key)
		}
		fileRows.Close()
		if err := fileRows.Err(); err != nil {
			return fmt.Errorf("iterate descendant files: %w", err)
		}

		targetIDs := append(append([]uuid.UUID{}, folderIDs...), fileIDs...)
		if _, err := tx.Exec(ctx,
			"DELETE FROM permission_overrides WHERE target_type = 'shared_item' AND target_id = ANY($1)",
			targetIDs,
		); err != nil {
			return fmt.Errorf("delete shared item overrides: %w", err)
		}

		if _, err := tx.Exec(ctx, "DELETE FROM shared_folders WHERE id = $1", id); err != nil {
			return fmt.Errorf("delete shared folder: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return storageKeys, nil
}

func (r *PGRepository) CreateFile(ctx context.Context, params CreateFileParams) (*File, error) {
	row := r.db.QueryRow(ctx,
		fmt.Sprintf(`INSERT INTO shared_files (folder_id, name, uploader_id, content_type, size_bytes, storage_key)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING %s`, fileColumns),
		params.FolderID, params.Name, params.UploaderID, params.ContentType, params.SizeBytes, params.StorageKey,
	)
	file, err := scanFile(row)
	if err != nil {
		return nil, fmt.Errorf("insert shared file: %w", err)
	}
	return file, nil
}

func (r *PGRepository) GetFile(ctx context.Context, id uuid.UUID) (*File, error) {
	row := r.db.QueryRow(ctx, fmt.Sprintf("SELECT %s FROM shared_files WHERE id = $1", fileColumns), id)
	file, err := scanFile(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrFileNotFound
		}
		return nil, fmt.Errorf("query shared file: %w", err)
	}
	return file, nil
}

func (r *PGRepository) ListFiles(ctx context.Context, folderID *uuid.UUID) ([]File, error) {
	var rows pgx.Rows
	var err error
	if folderID != nil {
		rows, err = r.db.Query(ctx,
			fmt.Sprintf("SELECT %s FROM shared_files WHERE folder_id = $1 ORDER BY name ASC", fileColumns),
			*folderID,
		)
	} else {
		rows, err = r.db.Query(ctx,
			fmt.Sprintf("SELECT %s FROM shared_files WHERE folder_id IS NULL ORDER BY name ASC", fileColumns),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("query shared files: %w", err)
	}
	defer rows.Close()

	var files []File
	for rows.Next() {
		file, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan shared file: %w", err)
		}
		files = append(files, *file)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate shared files: %w", err)
	}
	return files, nil
}

func (r *PGRepository) DeleteFile(ctx context.Context, id uuid.UUID) (*File, error) {
	row := r.db.QueryRow(ctx,
		fmt.Sprintf("DELETE FROM shared_files WHERE id = $1 RETURNING %s", fileColumns), id,
	)
	file, err := scanFile(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrFileNotFound
		}
		return nil, fmt.Errorf("delete shared file: %w", err)
	}

	if _, err := r.db.Exec(ctx,
		"DELETE FROM permission_overrides WHERE target_type = 'shared_item' AND target_id = $1", id,
	); err != nil {
		r.log.Warn().Err(err).Str("file_id", id.String()).Msg("failed to clean up overrides for deleted shared file")
	}

	return file, nil
}

func (r *PGRepository) TotalStorageBytes(ctx context.Context) (int64, error) {
	var total int64
	err := r.db.QueryRow(ctx, "SELECT COALESCE(SUM(size_bytes), 0) FROM shared_files").Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum shared file storage: %w", err)
	}
	return total, nil
}

func scanFolder(row pgx.Row) (*Folder, error) {
	var f Folder
	if err := row.Scan(&f.ID, &f.ParentFolderID, &f.Name, &f.CreatorID, &f.CreatedAt, &f.UpdatedAt); err != nil {
		return nil, err
	}
	return &f, nil
}

func scanFile(row pgx.Row) (*File, error) {
	var f File
	if err := row.Scan(&f.ID, &f.FolderID, &f.Name, &f.UploaderID, &f.ContentType, &f.SizeBytes, &f.StorageKey, &f.CreatedAt); err != nil {
		return nil, err
	}
	return &f, nil
}
