package ingestion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

const googleDocMime = "application/vnd.google-apps.document"

// DriveConfig holds OAuth2 client credentials and a token for the account
// that owns FolderID.
type DriveConfig struct {
	ClientID     string
	ClientSecret string
	AccessToken  string
	RefreshToken string
	FolderID     string
}

// DriveSource downloads the supported files of one Drive folder into a
// temporary directory. Google Docs are exported as plain text.
type DriveSource struct {
	service  *drive.Service
	folderID string
	dir      string
	logger   *zap.Logger
}

func NewDriveSource(ctx context.Context, cfg DriveConfig, logger *zap.Logger, opts ...option.ClientOption) (*DriveSource, error) {
	if cfg.FolderID == "" {
		return nil, errors.New("drive folder id is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(opts) == 0 {
		if cfg.AccessToken == "" && cfg.RefreshToken == "" {
			return nil, errors.New("drive access or refresh token is required")
		}
		oauthCfg := &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Scopes:       []string{drive.DriveReadonlyScope},
			Endpoint:     google.Endpoint,
		}
		token := &oauth2.Token{AccessToken: cfg.AccessToken, RefreshToken: cfg.RefreshToken}
		opts = []option.ClientOption{option.WithHTTPClient(oauthCfg.Client(ctx, token))}
	}
	service, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("drive client: %w", err)
	}
	return &DriveSource{service: service, folderID: cfg.FolderID, logger: logger}, nil
}

func (*DriveSource) Origin() string { return "gdrive" }

// Files downloads the folder and returns local paths. Call Close to remove
// them.
func (s *DriveSource) Files(ctx context.Context) ([]string, error) {
	if s.dir == "" {
		dir, err := os.MkdirTemp("", "uda_gdrive")
		if err != nil {
			return nil, err
		}
		s.dir = dir
	}

	var out []string
	err := s.service.Files.List().
		Q(folderQuery(s.folderID)).
		Fields("nextPageToken, files(id, name, mimeType)").
		Pages(ctx, func(list *drive.FileList) error {
			for _, f := range list.Files {
				path, err := s.fetch(ctx, f)
				if err != nil {
					s.logger.Warn("skipping drive file", zap.String("name", f.Name), zap.Error(err))
					continue
				}
				if path != "" {
					out = append(out, path)
				}
			}
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("list drive folder %s: %w", s.folderID, err)
	}
	return out, nil
}

var queryEscaper = strings.NewReplacer(`\`, `\\`, `'`, `\'`)

// folderQuery lists the live children of a folder. The id is quoted the way
// the Drive query language expects.
func folderQuery(folderID string) string {
	return fmt.Sprintf("'%s' in parents and trashed = false", queryEscaper.Replace(folderID))
}

// fetch returns "" for files ingestion cannot read. Each file lands in a
// directory named after its id so the base name stays the Drive name.
func (s *DriveSource) fetch(ctx context.Context, f *drive.File) (string, error) {
	name := filepath.Base(f.Name)
	var (
		resp *http.Response
		err  error
	)
	switch {
	case f.MimeType == googleDocMime:
		name = strings.TrimSuffix(name, filepath.Ext(name)) + ".txt"
		resp, err = s.service.Files.Export(f.Id, "text/plain").Context(ctx).Download()
	case Supported(name):
		resp, err = s.service.Files.Get(f.Id).Context(ctx).Download()
	default:
		return "", nil
	}
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	dir := filepath.Join(s.dir, f.Id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, name)
	out, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		return "", err
	}
	return path, out.Close()
}

func (s *DriveSource) Close() error {
	if s.dir == "" {
		return nil
	}
	return os.RemoveAll(s.dir)
}
