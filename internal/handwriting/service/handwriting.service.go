package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"canvasboard/internal/canvas"
	"canvasboard/internal/handwriting/model"
	"canvasboard/internal/handwriting/repository"
	"canvasboard/pkg/logger"
	"canvasboard/pkg/storage"

	"github.com/google/uuid"
)

const DefaultRoomID = "default"

var (
	ErrUnsupportedType = errors.New("only PNG or JPG images are allowed")
	ErrEmptyImage      = errors.New("uploaded image is empty")
	ErrQueueFull       = errors.New("OCR queue is full")
	ErrInvalidID       = errors.New("frameId and roomId must not contain path separators")
)

var allowedTypes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/jpg":  true,
}

// ShapeSource resolves shape records of a room.
type ShapeSource interface {
	Shapes(ctx context.Context, roomID string, ids []string) ([]canvas.Shape, error)
}

type Transcriber interface {
	Transcribe(ctx context.Context, png []byte) (string, error)
}

type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

type ocrJob struct {
	noteID string
	image  []byte
}

type HandwritingService struct {
	Repo        *repository.HandwritingRepository
	Storage     storage.Store
	Shapes      ShapeSource
	Transcriber Transcriber
	Embedder    Embedder
	Bucket      string

	jobs chan ocrJob
	wg   sync.WaitGroup
}

func NewHandwritingService(repo *repository.HandwritingRepository, store storage.Store, shapes ShapeSource,
	transcriber Transcriber, embedder Embedder, bucket string, queueSize int) *HandwritingService {
	if queueSize < 1 {
		queueSize = 1
	}
	return &HandwritingService{
		Repo:        repo,
		Storage:     store,
		Shapes:      shapes,
		Transcriber: transcriber,
		Embedder:    embedder,
		Bucket:      bucket,
		jobs:        make(chan ocrJob, queueSize),
	}
}

// Upload stores the frame image, records a processing note and queues OCR.
func (s *HandwritingService) Upload(ctx context.Context, req model.UploadRequest) (*model.UploadResponse, error) {
	if !allowedTypes[strings.ToLower(req.ContentType)] {
		return nil, ErrUnsupportedType
	}
	if len(req.Image) == 0 {
		return nil, ErrEmptyImage
	}

	img, err := NormalizeImage(req.Image, MaxImageSide)
	if err != nil {
		return nil, err
	}

	frameID := req.FrameID
	if frameID == "" {
		frameID = uuid.NewString()
	}
	roomID := req.RoomID
	if roomID == "" {
		roomID = DefaultRoomID
	}
	if !validPathSegment(frameID) || !validPathSegment(roomID) {
		return nil, ErrInvalidID
	}

	var strokeIDs []string
	if req.ShapeIDs != "" {
		if err := json.Unmarshal([]byte(req.ShapeIDs), &strokeIDs); err != nil {
			logger.Sugar.Warnf("Invalid handwritingShapeIds payload for frame %s: %s", frameID, req.ShapeIDs)
			strokeIDs = nil
		}
	}

	var bounds json.RawMessage
	if req.Bounds != "" {
		if json.Valid([]byte(req.Bounds)) {
			bounds = json.RawMessage(req.Bounds)
		} else {
			logger.Sugar.Warnf("Invalid bounds payload for frame %s: %s", frameID, req.Bounds)
		}
	}
	if bounds == nil && len(strokeIDs) > 0 && s.Shapes != nil {
		bounds = s.deriveBounds(ctx, roomID, strokeIDs)
	}

	storagePath := roomID + "/" + frameID + ".png"
	if err := s.Storage.Upload(ctx, s.Bucket, storagePath, "image/png", img); err != nil {
		return nil, fmt.Errorf("upload handwriting image: %w", err)
	}

	metadata := map[string]interface{}{}
	if req.Timestamp != "" {
		metadata["timestamp"] = req.Timestamp
	}
	note := &model.Note{
		FrameID:     frameID,
		RoomID:      roomID,
		StoragePath: storagePath,
		StrokeIDs:   strokeIDs,
		PageBounds:  bounds,
		GroupID:     req.GroupID,
		Metadata:    metadata,
		Status:      model.StatusProcessing,
	}
	if err := s.Repo.Insert(ctx, note); err != nil {
		if derr := s.Storage.Delete(context.Background(), s.Bucket, storagePath); derr != nil {
			logger.Sugar.Warnf("Failed to remove %s after error: %v", storagePath, derr)
		}
		return nil, fmt.Errorf("store handwriting metadata: %w", err)
	}

	s.enqueue(ocrJob{noteID: note.ID, image: img})

	return &model.UploadResponse{
		Success:     true,
		NoteID:      note.ID,
		FrameID:     frameID,
		StoragePath: storagePath,
		PublicURL:   s.Storage.PublicURL(s.Bucket, storagePath),
		Status:      model.StatusProcessing,
	}, nil
}

// validPathSegment reports whether id can be used as one storage path element.
func validPathSegment(id string) bool {
	return !strings.ContainsAny(id, "/\\") && !strings.Contains(id, "..")
}

// deriveBounds frames the given strokes from the live room, or returns nil.
func (s *HandwritingService) deriveBounds(ctx context.Context, roomID string, ids []string) json.RawMessage {
	shapes, err := s.Shapes.Shapes(ctx, roomID, ids)
	if err != nil {
		logger.Sugar.Warnf("Could not load strokes of room %s: %v", roomID, err)
		return nil
	}
	box, err := canvas.FrameBounds(shapes, canvas.DefaultFramePadding)
	if err != nil {
		return nil
	}
	b, _ := json.Marshal(box)
	return b
}

func (s *HandwritingService) enqueue(job ocrJob) {
	select {
	case s.jobs <- job:
	default:
		logger.Sugar.Errorf("OCR queue full, failing note %s", job.noteID)
		if err := s.Repo.MarkFailed(context.Background(), job.noteID, ErrQueueFull.Error()); err != nil {
			logger.Sugar.Errorf("Failed to mark note %s failed: %v", job.noteID, err)
		}
	}
}

// Start runs n OCR workers until ctx is cancelled. Wait blocks until they
// have exited.
func (s *HandwritingService) Start(ctx context.Context, n int) {
	if n < 1 {
		n = 1
	}
	for i := 0; i < n; i++ {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case job := <-s.jobs:
					s.process(ctx, job)
				}
			}
		}()
	}
	logger.Sugar.Infof("Started %d OCR workers", n)
}

func (s *HandwritingService) Wait() {
	s.wg.Wait()
}

// process transcribes one frame and records the outcome on its note.
func (s *HandwritingService) process(ctx context.Context, job ocrJob) {
	text, embedding, err := s.recognize(ctx, job.image)
	// The note is updated even when ctx was cancelled mid-job.
	updateCtx := context.WithoutCancel(ctx)
	if err != nil {
		logger.Sugar.Errorf("OCR failed for note %s: %v", job.noteID, err)
		if uerr := s.Repo.MarkFailed(updateCtx, job.noteID, err.Error()); uerr != nil {
			logger.Sugar.Errorf("Failed to mark note %s failed: %v", job.noteID, uerr)
		}
		return
	}
	if err := s.Repo.MarkCompleted(updateCtx, job.noteID, text, embedding); err != nil {
		logger.Sugar.Errorf("Failed to store transcription for note %s: %v", job.noteID, err)
		return
	}
	logger.Sugar.Infof("Note %s transcribed (%d chars)", job.noteID, len(text))
}

func (s *HandwritingService) recognize(ctx context.Context, img []byte) (string, []float32, error) {
	text, err := s.Transcriber.Transcribe(ctx, img)
	if err != nil {
		return "", nil, fmt.Errorf("transcribe: %w", err)
	}
	if strings.TrimSpace(text) == "" {
		return "", nil, nil
	}
	vecs, err := s.Embedder.Embed(ctx, []string{text})
	if err != nil {
		return "", nil, fmt.Errorf("embed transcription: %w", err)
	}
	if len(vecs) == 0 {
		return "", nil, errors.New("embed transcription: no vector returned")
	}
	return text, vecs[0], nil
}

func (s *HandwritingService) Get(ctx context.Context, id string) (*model.Note, error) {
	note, err := s.Repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	note.PublicURL = s.Storage.PublicURL(s.Bucket, note.StoragePath)
	return note, nil
}
