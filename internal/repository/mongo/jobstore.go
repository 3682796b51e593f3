// Package mongo implements the Job Store over MongoDB.
package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"mediafetch/internal/domain"
	"mediafetch/internal/domain/ports"
)

// JobStore is the MongoDB-backed implementation of ports.JobStore.
type JobStore struct {
	collection *mongo.Collection
}

func NewJobStore(client *mongo.Client, dbName, collectionName string) *JobStore {
	return &JobStore{collection: client.Database(dbName).Collection(collectionName)}
}

func Connect(ctx context.Context, uri string, extra ...*options.ClientOptions) (*mongo.Client, error) {
	opts := append([]*options.ClientOptions{options.Client().ApplyURI(uri)}, extra...)
	return mongo.Connect(ctx, opts...)
}

func (s *JobStore) EnsureIndexes(ctx context.Context) error {
	if s == nil || s.collection == nil {
		return nil
	}
	models := []mongo.IndexModel{
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "createdAt", Value: -1}}},
		{Keys: bson.D{{Key: "createdAt", Value: -1}}},
	}
	_, err := s.collection.Indexes().CreateMany(ctx, models)
	return err
}

type artifactDoc struct {
	StorageKey  string `bson:"storageKey"`
	SizeBytes   int64  `bson:"sizeBytes"`
	ContentType string `bson:"contentType"`
}

type artifactsDoc struct {
	Video     *artifactDoc            `bson:"video,omitempty"`
	Subtitles map[string]*artifactDoc `bson:"subtitles,omitempty"`
	Thumbnail *artifactDoc            `bson:"thumbnail,omitempty"`
}

type metadataDoc struct {
	Title      string  `bson:"title"`
	Duration   float64 `bson:"duration"`
	Uploader   string  `bson:"uploader"`
	UploadDate string  `bson:"uploadDate"`
	ViewCount  int64   `bson:"viewCount"`
	LikeCount  int64   `bson:"likeCount"`
}

type jobErrorDoc struct {
	Kind    string `bson:"kind"`
	Message string `bson:"message"`
}

type optionsDoc struct {
	Quality           string   `bson:"quality"`
	OutputFormat      string   `bson:"outputFormat"`
	AudioOnly         bool     `bson:"audioOnly"`
	IncludeSubtitles  bool     `bson:"includeSubtitles"`
	SubtitleLanguages []string `bson:"subtitleLanguages,omitempty"`
	UseCredentials    bool     `bson:"useCredentials"`
}

type jobDoc struct {
	ID          string       `bson:"_id"`
	SourceURL   string       `bson:"sourceUrl"`
	Status      string       `bson:"status"`
	Progress    float64      `bson:"progress"`
	Options     optionsDoc   `bson:"options"`
	Metadata    *metadataDoc `bson:"metadata,omitempty"`
	Artifacts   artifactsDoc `bson:"artifacts"`
	CreatedAt   int64        `bson:"createdAt"`
	StartedAt   *int64       `bson:"startedAt,omitempty"`
	FinishedAt  *int64       `bson:"finishedAt,omitempty"`
	Attempts    int          `bson:"attempts"`
	MaxAttempts int          `bson:"maxAttempts"`
	Error       *jobErrorDoc `bson:"error,omitempty"`
	Caller      string       `bson:"caller,omitempty"`
}

func (s *JobStore) Create(ctx context.Context, job *domain.Job) (domain.JobID, error) {
	doc := toDoc(*job)
	if _, err := s.collection.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return "", domain.ErrConflict
		}
		return "", domain.Wrap(domain.ErrStorageUnavailable, "insert job", err)
	}
	return job.ID, nil
}

func (s *JobStore) Load(ctx context.Context, id domain.JobID) (*domain.Job, error) {
	var doc jobDoc
	if err := s.collection.FindOne(ctx, bson.M{"_id": string(id)}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.Wrap(domain.ErrStorageUnavailable, "load job", err)
	}
	job := fromDoc(doc)
	return &job, nil
}

func (s *JobStore) List(ctx context.Context, filter domain.Filter, page domain.Page) (domain.PageResult, error) {
	query := bson.M{}
	if filter.Status != nil {
		query["status"] = string(*filter.Status)
	}
	if page.Cursor != "" {
		// The cursor is the ID of the last job on the previous page; resume
		// strictly after it in (createdAt desc, _id desc) order.
		var last jobDoc
		if err := s.collection.FindOne(ctx, bson.M{"_id": page.Cursor}).Decode(&last); err != nil {
			return domain.PageResult{}, domain.Wrap(domain.ErrStorageUnavailable, "load list cursor", err)
		}
		query["$or"] = bson.A{
			bson.M{"createdAt": bson.M{"$lt": last.CreatedAt}},
			bson.M{"createdAt": last.CreatedAt, "_id": bson.M{"$lt": last.ID}},
		}
	}

	limit := page.Limit
	if limit <= 0 {
		limit = 50
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(int64(limit) + 1)

	cursor, err := s.collection.Find(ctx, query, opts)
	if err != nil {
		return domain.PageResult{}, domain.Wrap(domain.ErrStorageUnavailable, "list jobs", err)
	}
	defer cursor.Close(ctx)

	var docs []jobDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return domain.PageResult{}, domain.Wrap(domain.ErrStorageUnavailable, "decode jobs", err)
	}

	var next string
	if len(docs) > limit {
		docs = docs[:limit]
		next = docs[len(docs)-1].ID
	}

	jobs := make([]domain.Job, 0, len(docs))
	for _, d := range docs {
		jobs = append(jobs, fromDoc(d))
	}
	return domain.PageResult{Jobs: jobs, NextCursor: next}, nil
}

// Transition is the single write path for Status. It is guarded by a filter
// on the current status being one of fromStates, making it atomic and
// idempotent: a retried call after success finds the document already in
// toState and the filter no longer matches, which we treat as success.
func (s *JobStore) Transition(ctx context.Context, id domain.JobID, fromStates []domain.Status, toState domain.Status, patch ports.TransitionPatch) error {
	statusValues := make([]string, 0, len(fromStates))
	for _, st := range fromStates {
		statusValues = append(statusValues, string(st))
	}

	set := bson.M{"status": string(toState)}
	inc := bson.M{}
	unset := bson.M{}

	if patch.IncrementAttempts {
		inc["attempts"] = 1
	}
	if patch.StartedAt != nil {
		set["startedAt"] = patch.StartedAt.Unix()
	}
	if patch.FinishedAt != nil {
		set["finishedAt"] = patch.FinishedAt.Unix()
	}
	if patch.ClearError {
		unset["error"] = ""
	} else if patch.Error != nil {
		set["error"] = jobErrorDoc{Kind: string(patch.Error.Kind), Message: patch.Error.Message}
	}
	if patch.Metadata != nil {
		set["metadata"] = toMetadataDoc(patch.Metadata)
	}
	if patch.Artifacts != nil {
		set["artifacts"] = toArtifactsDoc(*patch.Artifacts)
	}

	update := bson.M{"$set": set}
	if len(inc) > 0 {
		update["$inc"] = inc
	}
	if len(unset) > 0 {
		update["$unset"] = unset
	}

	filter := bson.M{"_id": string(id), "status": bson.M{"$in": statusValues}}
	res, err := s.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return domain.Wrap(domain.ErrStorageUnavailable, "transition job", err)
	}
	if res.MatchedCount == 0 {
		// Either not found, or already in toState (idempotent no-op), or a
		// genuine conflict. Distinguish by re-reading current status.
		var doc jobDoc
		if err := s.collection.FindOne(ctx, bson.M{"_id": string(id)}).Decode(&doc); err != nil {
			if errors.Is(err, mongo.ErrNoDocuments) {
				return domain.ErrNotFound
			}
			return domain.Wrap(domain.ErrStorageUnavailable, "re-read job", err)
		}
		if doc.Status == string(toState) {
			return nil
		}
		return domain.ErrConflict
	}
	return nil
}

// Probe confirms the collection is reachable via a zero-result, bounded
// find rather than a bare connectivity ping.
func (s *JobStore) Probe(ctx context.Context) ports.HealthStatus {
	opts := options.Find().SetLimit(1)
	cursor, err := s.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return ports.HealthUnhealthy
	}
	defer cursor.Close(ctx)
	return ports.HealthHealthy
}

func (s *JobStore) TouchProgress(ctx context.Context, id domain.JobID, percent float64) error {
	filter := bson.M{
		"_id":      string(id),
		"status":   string(domain.StatusRunning),
		"progress": bson.M{"$lt": percent},
	}
	_, err := s.collection.UpdateOne(ctx, filter, bson.M{"$set": bson.M{"progress": percent}})
	if err != nil {
		return domain.Wrap(domain.ErrStorageUnavailable, "touch progress", err)
	}
	return nil
}

func toDoc(j domain.Job) jobDoc {
	doc := jobDoc{
		ID:        string(j.ID),
		SourceURL: j.SourceURL,
		Status:    string(j.Status),
		Progress:  j.Progress,
		Options: optionsDoc{
			Quality:           string(j.Options.Quality),
			OutputFormat:      string(j.Options.OutputFormat),
			AudioOnly:         j.Options.AudioOnly,
			IncludeSubtitles:  j.Options.IncludeSubtitles,
			SubtitleLanguages: j.Options.SubtitleLanguages,
			UseCredentials:    j.Options.UseCredentials,
		},
		Artifacts:   toArtifactsDoc(j.Artifacts),
		CreatedAt:   j.Timestamps.CreatedAt.Unix(),
		Attempts:    j.Attempts,
		MaxAttempts: j.MaxAttempts,
		Caller:      j.Caller,
	}
	if j.Timestamps.StartedAt != nil {
		v := j.Timestamps.StartedAt.Unix()
		doc.StartedAt = &v
	}
	if j.Timestamps.FinishedAt != nil {
		v := j.Timestamps.FinishedAt.Unix()
		doc.FinishedAt = &v
	}
	if j.Metadata != nil {
		doc.Metadata = toMetadataDoc(j.Metadata)
	}
	if j.Error != nil {
		doc.Error = &jobErrorDoc{Kind: string(j.Error.Kind), Message: j.Error.Message}
	}
	return doc
}

func toMetadataDoc(m *domain.Metadata) *metadataDoc {
	if m == nil {
		return nil
	}
	return &metadataDoc{
		Title:      m.Title,
		Duration:   m.Duration,
		Uploader:   m.Uploader,
		UploadDate: m.UploadDate,
		ViewCount:  m.ViewCount,
		LikeCount:  m.LikeCount,
	}
}

func toArtifactsDoc(a domain.Artifacts) artifactsDoc {
	doc := artifactsDoc{}
	if a.Video != nil {
		doc.Video = &artifactDoc{StorageKey: a.Video.StorageKey, SizeBytes: a.Video.SizeBytes, ContentType: a.Video.ContentType}
	}
	if a.Thumbnail != nil {
		doc.Thumbnail = &artifactDoc{StorageKey: a.Thumbnail.StorageKey, SizeBytes: a.Thumbnail.SizeBytes, ContentType: a.Thumbnail.ContentType}
	}
	if len(a.Subtitles) > 0 {
		doc.Subtitles = make(map[string]*artifactDoc, len(a.Subtitles))
		for lang, art := range a.Subtitles {
			doc.Subtitles[lang] = &artifactDoc{StorageKey: art.StorageKey, SizeBytes: art.SizeBytes, ContentType: art.ContentType}
		}
	}
	return doc
}

func fromDoc(doc jobDoc) domain.Job {
	job := domain.Job{
		ID:        domain.JobID(doc.ID),
		SourceURL: doc.SourceURL,
		Status:    domain.Status(doc.Status),
		Progress:  doc.Progress,
		Options: domain.Options{
			Quality:           domain.Quality(doc.Options.Quality),
			OutputFormat:      domain.OutputFormat(doc.Options.OutputFormat),
			AudioOnly:         doc.Options.AudioOnly,
			IncludeSubtitles:  doc.Options.IncludeSubtitles,
			SubtitleLanguages: doc.Options.SubtitleLanguages,
			UseCredentials:    doc.Options.UseCredentials,
		},
		Artifacts: domain.Artifacts{
			Video:     fromArtifactDoc(doc.Artifacts.Video),
			Thumbnail: fromArtifactDoc(doc.Artifacts.Thumbnail),
		},
		Timestamps:  domain.Timestamps{CreatedAt: time.Unix(doc.CreatedAt, 0).UTC()},
		Attempts:    doc.Attempts,
		MaxAttempts: doc.MaxAttempts,
		Caller:      doc.Caller,
	}
	if len(doc.Artifacts.Subtitles) > 0 {
		job.Artifacts.Subtitles = make(map[string]*domain.Artifact, len(doc.Artifacts.Subtitles))
		for lang, art := range doc.Artifacts.Subtitles {
			job.Artifacts.Subtitles[lang] = fromArtifactDoc(art)
		}
	}
	if doc.StartedAt != nil {
		t := time.Unix(*doc.StartedAt, 0).UTC()
		job.Timestamps.StartedAt = &t
	}
	if doc.FinishedAt != nil {
		t := time.Unix(*doc.FinishedAt, 0).UTC()
		job.Timestamps.FinishedAt = &t
	}
	if doc.Metadata != nil {
		job.Metadata = &domain.Metadata{
			Title:      doc.Metadata.Title,
			Duration:   doc.Metadata.Duration,
			Uploader:   doc.Metadata.Uploader,
			UploadDate: doc.Metadata.UploadDate,
			ViewCount:  doc.Metadata.ViewCount,
			LikeCount:  doc.Metadata.LikeCount,
		}
	}
	if doc.Error != nil {
		job.Error = &domain.JobError{Kind: domain.ErrorKind(doc.Error.Kind), Message: doc.Error.Message}
	}
	return job
}

func fromArtifactDoc(d *artifactDoc) *domain.Artifact {
	if d == nil {
		return nil
	}
	return &domain.Artifact{StorageKey: d.StorageKey, SizeBytes: d.SizeBytes, ContentType: d.ContentType}
}
