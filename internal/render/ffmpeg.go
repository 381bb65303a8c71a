package render

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"sceneflow/internal/logging"
	"sceneflow/internal/objectstore"
)

var commandContext = exec.CommandContext

// FFmpeg stitches scene clips with the ffmpeg binary. Source clips are pulled
// from the object store into a scratch directory, concatenated with the
// concat demuxer, and the result is uploaded back; the scratch directory is
// removed on success and failure alike.
type FFmpeg struct {
	store   objectstore.Store
	workDir string
	binary  string
	logger  *slog.Logger
}

var _ Renderer = (*FFmpeg)(nil)

// NewFFmpeg builds a renderer that scratches under workDir.
func NewFFmpeg(store objectstore.Store, workDir string, logger *slog.Logger) *FFmpeg {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &FFmpeg{
		store:   store,
		workDir: workDir,
		binary:  "ffmpeg",
		logger:  logging.NewComponentLogger(logger, "render"),
	}
}

// StitchScenes implements Renderer.
func (f *FFmpeg) StitchScenes(ctx context.Context, projectID string, videoURIs []string, audioURI string) (string, error) {
	if len(videoURIs) == 0 {
		return "", errors.New("stitch scenes: no scene videos")
	}
	if projectID == "" {
		return "", errors.New("stitch scenes: project id is required")
	}

	scratch, err := os.MkdirTemp(f.workDir, "stitch-")
	if err != nil {
		return "", fmt.Errorf("create scratch dir: %w", err)
	}
	defer func() {
		if removeErr := os.RemoveAll(scratch); removeErr != nil {
			f.logger.WarnContext(ctx, "failed to remove scratch dir",
				logging.String("path", scratch),
				logging.Error(removeErr),
			)
		}
	}()

	listPath, err := f.fetchClips(ctx, scratch, videoURIs)
	if err != nil {
		return "", err
	}

	audioPath := ""
	if audioURI != "" {
		audioPath = filepath.Join(scratch, "audio"+filepath.Ext(audioURI))
		if audioPath == filepath.Join(scratch, "audio") {
			audioPath += ".mp3"
		}
		if err := f.store.DownloadFile(ctx, audioURI, audioPath); err != nil {
			return "", fmt.Errorf("fetch audio track: %w", err)
		}
	}

	output := filepath.Join(scratch, "final.mp4")
	if err := f.runConcat(ctx, listPath, audioPath, output); err != nil {
		return "", err
	}

	uri, err := f.store.UploadFile(ctx, output, objectstore.Descriptor{
		ProjectID: projectID,
		Kind:      objectstore.KindFinal,
		Filename:  "final.mp4",
	})
	if err != nil {
		return "", fmt.Errorf("upload final video: %w", err)
	}
	f.logger.InfoContext(ctx, "final video assembled",
		logging.String(logging.FieldProjectID, projectID),
		logging.Int("scene_count", len(videoURIs)),
		logging.String("uri", uri),
	)
	return uri, nil
}

func (f *FFmpeg) fetchClips(ctx context.Context, scratch string, videoURIs []string) (string, error) {
	var list strings.Builder
	for i, uri := range videoURIs {
		clipPath := filepath.Join(scratch, fmt.Sprintf("clip-%03d.mp4", i))
		if err := f.store.DownloadFile(ctx, uri, clipPath); err != nil {
			return "", fmt.Errorf("fetch scene clip %d: %w", i, err)
		}
		fmt.Fprintf(&list, "file '%s'\n", clipPath)
	}

	listPath := filepath.Join(scratch, "concat.txt")
	if err := os.WriteFile(listPath, []byte(list.String()), 0o644); err != nil {
		return "", fmt.Errorf("write concat list: %w", err)
	}
	return listPath, nil
}

func (f *FFmpeg) runConcat(ctx context.Context, listPath, audioPath, output string) error {
	args := []string{
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
	}
	if audioPath != "" {
		args = append(args,
			"-i", audioPath,
			"-map", "0:v",
			"-map", "1:a",
			"-shortest",
		)
	}
	args = append(args, "-c:v", "copy", output)

	cmd := commandContext(ctx, f.binary, args...) //nolint:gosec
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("ffmpeg concat: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}
