package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"

	"github.com/cerdastangkas/gdrive-uploader/logger"
)

const driveFolderMimeType = "application/vnd.google-apps.folder"

// FileService is the subset of the Drive files API the backend uses
type FileService interface {
	List(ctx context.Context, query, pageToken string) (*drive.FileList, error)
	Create(ctx context.Context, meta *drive.File, media io.Reader, opts ...googleapi.MediaOption) (*drive.File, error)
	GenerateIDs(ctx context.Context, count int) ([]string, error)
	Get(ctx context.Context, id string) (*drive.File, error)
}

// driveFiles adapts *drive.Service to FileService
type driveFiles struct {
	svc          *drive.Service
	sharedDrives bool
}

// NewFileService wraps svc. With sharedDrives, items from shared drives are included.
func NewFileService(svc *drive.Service, sharedDrives bool) FileService {
	return &driveFiles{svc: svc, sharedDrives: sharedDrives}
}

func (d *driveFiles) List(ctx context.Context, query, pageToken string) (*drive.FileList, error) {
	call := d.svc.Files.List().
		Q(query).
		Spaces("drive").
		OrderBy("createdTime").
		PageSize(1000).
		Fields("nextPageToken", "files(id, name, mimeType, createdTime)").
		Context(ctx)
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}
	if d.sharedDrives {
		call = call.SupportsAllDrives(true).IncludeItemsFromAllDrives(true)
	}
	return call.Do()
}

func (d *driveFiles) Create(ctx context.Context, meta *drive.File, media io.Reader, opts ...googleapi.MediaOption) (*drive.File, error) {
	call := d.svc.Files.Create(meta).Fields("id").Context(ctx)
	if media != nil {
		call = call.Media(media, opts...)
	}
	if d.sharedDrives {
		call = call.SupportsAllDrives(true)
	}
	return call.Do()
}

func (d *driveFiles) GenerateIDs(ctx context.Context, count int) ([]string, error) {
	res, err := d.svc.Files.GenerateIds().Count(int64(count)).Space("drive").Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	return res.Ids, nil
}

func (d *driveFiles) Get(ctx context.Context, id string) (*drive.File, error) {
	call := d.svc.Files.Get(id).Fields("id").Context(ctx)
	if d.sharedDrives {
		call = call.SupportsAllDrives(true)
	}
	return call.Do()
}

var (
	_ Backend            = (*DriveBackend)(nil)
	_ BatchFolderCreator = (*DriveBackend)(nil)
)

// DriveBackend stores folders and files in Google Drive
type DriveBackend struct {
	files  FileService
	logger logger.Logger
}

func NewDriveBackend(files FileService, log logger.Logger) *DriveBackend {
	return &DriveBackend{files: files, logger: logger.OrNoOp(log)}
}

func (d *DriveBackend) Name() string { return "drive" }

func (d *DriveBackend) Close() error { return nil }

func (d *DriveBackend) RootID(ctx context.Context) (string, error) {
	f, err := d.files.Get(ctx, "root")
	if err != nil {
		return "", err
	}
	return f.Id, nil
}

// escapeQuery quotes a value for use inside '...' in a Drive query
func escapeQuery(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `'`, `\'`)
}

func childQuery(name, parentID string, folder bool) string {
	var q strings.Builder
	if name != "" {
		fmt.Fprintf(&q, "name = '%s' and ", escapeQuery(name))
	}
	fmt.Fprintf(&q, "'%s' in parents and ", escapeQuery(parentID))
	if folder {
		fmt.Fprintf(&q, "mimeType = '%s'", driveFolderMimeType)
	} else {
		fmt.Fprintf(&q, "mimeType != '%s'", driveFolderMimeType)
	}
	q.WriteString(" and trashed = false")
	return q.String()
}

// findOne returns the oldest match of query
func (d *DriveBackend) findOne(ctx context.Context, query string) (string, error) {
	res, err := d.files.List(ctx, query, "")
	if err != nil {
		return "", err
	}
	if len(res.Files) == 0 {
		return "", ErrNotFound
	}
	if len(res.Files) > 1 {
		d.logger.Debug("%d objects match %q, using the oldest (%s)", len(res.Files), query, res.Files[0].Id)
	}
	return res.Files[0].Id, nil
}

func (d *DriveBackend) FindFolder(ctx context.Context, name, parentID string) (string, error) {
	return d.findOne(ctx, childQuery(name, parentID, true))
}

func (d *DriveBackend) FindFile(ctx context.Context, name, parentID string) (string, error) {
	return d.findOne(ctx, childQuery(name, parentID, false))
}

func (d *DriveBackend) ListFolders(ctx context.Context, parentID string) (map[string]string, error) {
	query := childQuery("", parentID, true)
	out := make(map[string]string)
	pageToken := ""
	for {
		res, err := d.files.List(ctx, query, pageToken)
		if err != nil {
			return nil, err
		}
		for _, f := range res.Files {
			if _, ok := out[f.Name]; !ok {
				out[f.Name] = f.Id
			}
		}
		if res.NextPageToken == "" {
			return out, nil
		}
		pageToken = res.NextPageToken
	}
}

func (d *DriveBackend) CreateFolder(ctx context.Context, name, parentID string) (string, error) {
	f, err := d.files.Create(ctx, &drive.File{
		Name:     name,
		MimeType: driveFolderMimeType,
		Parents:  []string{parentID},
	}, nil)
	if err != nil {
		return "", err
	}
	return f.Id, nil
}

// CreateFolders reserves ids up front and creates each folder with its reserved id,
// so a create that is repeated after a lost response conflicts instead of duplicating.
func (d *DriveBackend) CreateFolders(ctx context.Context, parentID string, names []string) (map[string]string, error) {
	ids, err := d.files.GenerateIDs(ctx, len(names))
	if err != nil {
		return nil, fmt.Errorf("failed to reserve folder ids: %w", err)
	}
	if len(ids) < len(names) {
		return nil, fmt.Errorf("reserved %d folder ids, need %d", len(ids), len(names))
	}

	created := make(map[string]string, len(names))
	var errs []error
	for i, name := range names {
		_, err := d.files.Create(ctx, &drive.File{
			Id:       ids[i],
			Name:     name,
			MimeType: driveFolderMimeType,
			Parents:  []string{parentID},
		}, nil)
		var gerr *googleapi.Error
		if err != nil && !(errors.As(err, &gerr) && gerr.Code == 409) {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		created[name] = ids[i]
	}
	return created, errors.Join(errs...)
}

func (d *DriveBackend) CreateFile(ctx context.Context, req FileRequest) (string, error) {
	opts := []googleapi.MediaOption{googleapi.ChunkSize(req.ChunkSize)}
	if req.ContentType != "" {
		opts = append(opts, googleapi.ContentType(req.ContentType))
	}
	f, err := d.files.Create(ctx, &drive.File{
		Name:    req.Name,
		Parents: []string{req.ParentID},
	}, req.Body, opts...)
	if err != nil {
		return "", err
	}
	return f.Id, nil
}
