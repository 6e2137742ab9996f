// Package assets keeps uploaded images on the local filesystem and serves them by URL.
package assets

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/MarcoPoloResearchLab/murmur/backend/internal/apperr"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	opStoreNew        = "assets.store.new"
	opStore           = "assets.store"
	opRelease         = "assets.release"
	DefaultMaxBytes   = 10 << 20
	defaultPublicPath = "/assets"
)

var (
	errMissingDirectory  = errors.New("asset directory is required")
	errInvalidPublicPath = errors.New("public path must start with /")
	errInvalidFolder     = errors.New("folder must be lowercase letters, digits, dashes or underscores")
	errUnsupportedSource = errors.New("image must be a data URL or an http(s) URL")
	errMalformedDataURL  = errors.New("data URL is malformed")
	errTooLarge          = errors.New("image exceeds the size limit")
	errNotImage          = errors.New("uploaded file is not an image")
	errOutsideDirectory  = errors.New("reference points outside the asset directory")
	folderPattern        = regexp.MustCompile(`^[a-z0-9_-]{1,32}$`)
	noOpLogger           = zap.NewNop()
)

// LocalStoreConfig describes where images are written and the URL prefix they are served under.
type LocalStoreConfig struct {
	Directory  string
	PublicPath string
	MaxBytes   int
	Logger     *zap.Logger
}

// LocalStore writes decoded data URLs below Directory. Remote http(s) URLs are kept as
// references and never fetched.
type LocalStore struct {
	directory  string
	publicPath string
	maxBytes   int
	logger     *zap.Logger
}

func NewLocalStore(cfg LocalStoreConfig) (*LocalStore, error) {
	directory := strings.TrimSpace(cfg.Directory)
	if directory == "" {
		return nil, apperr.DependencyFailure(opStoreNew, "missing_directory", errMissingDirectory)
	}
	publicPath := strings.TrimSpace(cfg.PublicPath)
	if publicPath == "" {
		publicPath = defaultPublicPath
	}
	if !strings.HasPrefix(publicPath, "/") {
		return nil, apperr.DependencyFailure(opStoreNew, "invalid_public_path", errInvalidPublicPath)
	}
	absolute, err := filepath.Abs(directory)
	if err != nil {
		return nil, apperr.DependencyFailure(opStoreNew, "resolve_directory_failed", err)
	}
	if err := os.MkdirAll(absolute, 0o755); err != nil {
		return nil, apperr.DependencyFailure(opStoreNew, "create_directory_failed", err)
	}
	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &LocalStore{
		directory:  absolute,
		publicPath: strings.TrimRight(publicPath, "/"),
		maxBytes:   maxBytes,
		logger:     logger,
	}, nil
}

// Directory returns the absolute directory served under PublicPath.
func (s *LocalStore) Directory() string {
	return s.directory
}

// PublicPath returns the URL prefix of stored images.
func (s *LocalStore) PublicPath() string {
	return s.publicPath
}

// Store turns source into a durable reference inside folder.
func (s *LocalStore) Store(ctx context.Context, folder, source string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", apperr.DependencyFailure(opStore, "cancelled", err)
	}
	if !folderPattern.MatchString(folder) {
		return "", apperr.InvalidInput(opStore, "invalid_folder", errInvalidFolder)
	}
	source = strings.TrimSpace(source)
	lowered := strings.ToLower(source)
	switch {
	case strings.HasPrefix(lowered, "http://"), strings.HasPrefix(lowered, "https://"):
		return source, nil
	case strings.HasPrefix(source, s.publicPath+"/"):
		if _, err := s.resolve(source); err != nil {
			return "", apperr.InvalidInput(opStore, "invalid_reference", err)
		}
		return source, nil
	case strings.HasPrefix(lowered, "data:"):
		return s.storeDataURL(folder, source)
	}
	return "", apperr.InvalidInput(opStore, "unsupported_source", errUnsupportedSource)
}

// Release deletes a stored image. External references and already missing files are ignored.
func (s *LocalStore) Release(_ context.Context, reference string) error {
	reference = strings.TrimSpace(reference)
	if !strings.HasPrefix(reference, s.publicPath+"/") {
		return nil
	}
	target, err := s.resolve(reference)
	if err != nil {
		return apperr.InvalidInput(opRelease, "invalid_reference", err)
	}
	if err := os.Remove(target); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Error("asset release failed", zap.String("reference", reference), zap.Error(err))
		return apperr.DependencyFailure(opRelease, "remove_failed", err)
	}
	return nil
}

func (s *LocalStore) storeDataURL(folder, source string) (string, error) {
	comma := strings.IndexByte(source, ',')
	if comma < 0 {
		return "", apperr.InvalidInput(opStore, "malformed_data_url", errMalformedDataURL)
	}
	header, payload := source[len("data:"):comma], source[comma+1:]
	if !strings.HasSuffix(strings.ToLower(header), ";base64") {
		return "", apperr.InvalidInput(opStore, "malformed_data_url", errMalformedDataURL)
	}
	if base64.StdEncoding.DecodedLen(len(payload)) > s.maxBytes+2 {
		return "", apperr.InvalidInput(opStore, "too_large", errTooLarge)
	}
	content, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", apperr.InvalidInput(opStore, "malformed_data_url", fmt.Errorf("%w: %v", errMalformedDataURL, err))
	}
	if len(content) > s.maxBytes {
		return "", apperr.InvalidInput(opStore, "too_large", errTooLarge)
	}

	detected := mimetype.Detect(content)
	if !strings.HasPrefix(detected.String(), "image/") {
		return "", apperr.InvalidInput(opStore, "not_an_image", fmt.Errorf("%w: %s", errNotImage, detected.String()))
	}

	name := uuid.NewString() + detected.Extension()
	folderPath := filepath.Join(s.directory, folder)
	if err := os.MkdirAll(folderPath, 0o755); err != nil {
		s.logger.Error("asset folder creation failed", zap.String("folder", folder), zap.Error(err))
		return "", apperr.DependencyFailure(opStore, "create_folder_failed", err)
	}
	if err := os.WriteFile(filepath.Join(folderPath, name), content, 0o644); err != nil {
		s.logger.Error("asset write failed", zap.String("folder", folder), zap.Error(err))
		return "", apperr.DependencyFailure(opStore, "write_failed", err)
	}
	reference := path.Join(s.publicPath, folder, name)
	s.logger.Debug("asset stored",
		zap.String("reference", reference),
		zap.String("mime", detected.String()),
		zap.Int("bytes", len(content)))
	return reference, nil
}

// resolve maps a public reference to a file path inside the asset directory.
func (s *LocalStore) resolve(reference string) (string, error) {
	relative := strings.TrimPrefix(reference, s.publicPath+"/")
	target := filepath.Join(s.directory, filepath.FromSlash(relative))
	within, err := filepath.Rel(s.directory, target)
	if err != nil || within == "." || strings.HasPrefix(within, "..") {
		return "", errOutsideDirectory
	}
	return target, nil
}
