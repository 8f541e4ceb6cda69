package mongo

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/clark-center/change-object-author/internal/config"
	"github.com/clark-center/change-object-author/internal/model"
	registrymigrate "github.com/clark-center/change-object-author/internal/registry/migrate"
	registrystore "github.com/clark-center/change-object-author/internal/registry/store"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const (
	objectsCollection       = "objects"
	usersCollection         = "users"
	fileAccessIDsCollection = "file-access-ids"
)

func init() {
	registrystore.Register(registrystore.Plugin{
		Name: "mongo",
		Loader: func(ctx context.Context) (registrystore.RecordStore, error) {
			cfg := config.FromContext(ctx)
			if cfg == nil || cfg.DBURL == "" {
				return nil, fmt.Errorf("mongo: db url is required")
			}
			opts := options.Client().ApplyURI(cfg.DBURL)
			if cfg.DBMaxOpenConns > 0 {
				opts.SetMaxPoolSize(uint64(cfg.DBMaxOpenConns))
			}
			client, err := mongo.Connect(opts)
			if err != nil {
				return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
			}
			if err := client.Ping(ctx, nil); err != nil {
				_ = client.Disconnect(ctx)
				return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
			}
			return New(client, cfg.DBName), nil
		},
	})

	registrymigrate.Register(registrymigrate.Plugin{Order: 100, Migrator: &mongoMigrator{}})
}

type mongoMigrator struct{}

func (m *mongoMigrator) Name() string { return "mongo-indexes" }
func (m *mongoMigrator) Migrate(ctx context.Context) error {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.DatastoreType != "mongo" {
		return nil
	}

	log.Info("Running migration", "name", m.Name())
	client, err := mongo.Connect(options.Client().ApplyURI(cfg.DBURL))
	if err != nil {
		return fmt.Errorf("mongo migration: failed to connect: %w", err)
	}
	defer client.Disconnect(ctx)

	db := client.Database(cfg.DBName)
	collections := map[string][]mongo.IndexModel{
		objectsCollection: {
			{Keys: bson.D{{Key: "authorID", Value: 1}}},
			{Keys: bson.D{{Key: "cuid", Value: 1}}},
		},
		usersCollection: {
			{Keys: bson.D{{Key: "username", Value: 1}}},
		},
		fileAccessIDsCollection: {
			{
				Keys:    bson.D{{Key: "username", Value: 1}},
				Options: options.Index().SetUnique(true).SetName("unique_file_access_per_user"),
			},
		},
	}
	for name, indexes := range collections {
		if _, err := db.Collection(name).Indexes().CreateMany(ctx, indexes); err != nil {
			return fmt.Errorf("mongo migration: failed to create indexes for %s: %w", name, err)
		}
	}

	log.Info("MongoDB index migration complete")
	return nil
}

// MongoStore implements RecordStore on the learning-object database.
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
}

// New wraps an already connected client.
func New(client *mongo.Client, dbName string) *MongoStore {
	return &MongoStore{client: client, db: client.Database(dbName)}
}

// --- MongoDB document types ---

// outcomeDoc keeps _id and mappings raw: outcome IDs may be ObjectIDs and
// mappings may hold sub-documents, neither of which the transfer depends on.
type outcomeDoc struct {
	ID       bson.RawValue `bson:"_id,omitempty"`
	Bloom    string        `bson:"bloom"`
	Verb     string        `bson:"verb"`
	Text     string        `bson:"text"`
	Mappings bson.RawValue `bson:"mappings"`
}

type objectDoc struct {
	ID           string        `bson:"_id"`
	CUID         string        `bson:"cuid"`
	AuthorID     string        `bson:"authorID"`
	Contributors []string      `bson:"contributors"`
	Outcomes     *[]outcomeDoc `bson:"outcomes,omitempty"`
	Name         string        `bson:"name"`
	Description  string        `bson:"description"`
	Collection   string        `bson:"collection"`
	Date         string        `bson:"date"`
	Version      int           `bson:"version"`
	Status       string        `bson:"status"`
	Length       string        `bson:"length"`
	Levels       []string      `bson:"levels"`
}

type userDoc struct {
	ID           string `bson:"_id"`
	Username     string `bson:"username"`
	Name         string `bson:"name"`
	Email        string `bson:"email"`
	Organization string `bson:"organization"`
}

type fileAccessDoc struct {
	Username     string `bson:"username"`
	FileAccessID string `bson:"fileAccessId"`
}

func (d objectDoc) toModel() model.LearningObject {
	lo := model.LearningObject{
		ID:           d.ID,
		CUID:         d.CUID,
		AuthorID:     d.AuthorID,
		Contributors: d.Contributors,
		Name:         d.Name,
		Description:  d.Description,
		Collection:   d.Collection,
		Date:         d.Date,
		Version:      d.Version,
		Status:       d.Status,
		Length:       d.Length,
		Levels:       d.Levels,
	}
	if lo.Contributors == nil {
		lo.Contributors = []string{}
	}
	if d.Outcomes != nil {
		lo.Outcomes = make([]model.Outcome, 0, len(*d.Outcomes))
		for _, o := range *d.Outcomes {
			lo.Outcomes = append(lo.Outcomes, model.Outcome{
				ID:       rawID(o.ID),
				Bloom:    o.Bloom,
				Verb:     o.Verb,
				Text:     o.Text,
				Mappings: stringMappings(o.Mappings),
			})
		}
	}
	return lo
}

// rawID renders a string or ObjectID identifier as text.
func rawID(v bson.RawValue) string {
	if id, ok := v.StringValueOK(); ok {
		return id
	}
	if oid, ok := v.ObjectIDOK(); ok {
		return oid.Hex()
	}
	return ""
}

// stringMappings keeps the plain-string entries of a mappings array.
func stringMappings(v bson.RawValue) []string {
	arr, ok := v.ArrayOK()
	if !ok {
		return nil
	}
	values, err := arr.Values()
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(values))
	for _, val := range values {
		if m, ok := val.StringValueOK(); ok {
			out = append(out, m)
		}
	}
	return out
}

func (d userDoc) toModel() *model.UserAccount {
	return &model.UserAccount{
		ID:           d.ID,
		Username:     d.Username,
		Name:         d.Name,
		Email:        d.Email,
		Organization: d.Organization,
	}
}

// --- Collection accessors ---

func (s *MongoStore) objects() *mongo.Collection       { return s.db.Collection(objectsCollection) }
func (s *MongoStore) users() *mongo.Collection         { return s.db.Collection(usersCollection) }
func (s *MongoStore) fileAccessIDs() *mongo.Collection { return s.db.Collection(fileAccessIDsCollection) }

// --- RecordStore ---

func (s *MongoStore) GetLearningObjectsByID(ctx context.Context, ids ...string) ([]model.LearningObject, error) {
	filter := bson.M{}
	if len(ids) > 0 {
		filter["_id"] = bson.M{"$in": ids}
	}
	return s.findObjects(ctx, filter)
}

func (s *MongoStore) GetAuthorLearningObjects(ctx context.Context, authorID string, ids ...string) ([]model.LearningObject, error) {
	filter := bson.M{"authorID": authorID}
	if len(ids) > 0 {
		filter["_id"] = bson.M{"$in": ids}
	}
	return s.findObjects(ctx, filter)
}

func (s *MongoStore) findObjects(ctx context.Context, filter bson.M) ([]model.LearningObject, error) {
	cursor, err := s.objects().Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("mongo: find objects: %w", err)
	}
	defer cursor.Close(ctx)

	result := []model.LearningObject{}
	for cursor.Next(ctx) {
		var doc objectDoc
		if err := cursor.Decode(&doc); err != nil {
			// Shape violations are reported with the offending id when it can be read.
			id, _ := cursor.Current.Lookup("_id").StringValueOK()
			return nil, fmt.Errorf("mongo: decode object %q: %w", id, err)
		}
		result = append(result, doc.toModel())
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("mongo: iterate objects: %w", err)
	}
	return result, nil
}

func (s *MongoStore) GetUserAccount(ctx context.Context, userID string) (*model.UserAccount, error) {
	var doc userDoc
	err := s.users().FindOne(ctx, bson.M{"_id": userID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, &registrystore.NotFoundError{Resource: "user account", ID: userID}
	}
	if err != nil {
		return nil, fmt.Errorf("mongo: get user %s: %w", userID, err)
	}
	return doc.toModel(), nil
}

func (s *MongoStore) GetFileAccessID(ctx context.Context, username string) (*model.FileAccessID, error) {
	var doc fileAccessDoc
	err := s.fileAccessIDs().FindOne(ctx, bson.M{"username": username}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, &registrystore.NotFoundError{Resource: "file access id", ID: username}
	}
	if err != nil {
		return nil, fmt.Errorf("mongo: get file access id for %s: %w", username, err)
	}
	return &model.FileAccessID{Username: doc.Username, FileAccessID: doc.FileAccessID}, nil
}

func (s *MongoStore) SetLearningObjectAuthor(ctx context.Context, objectID, newAuthorID string) (*registrystore.AuthorUpdate, error) {
	res, err := s.objects().UpdateOne(ctx,
		bson.M{"_id": objectID},
		bson.M{"$set": bson.M{"authorID": newAuthorID}},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		return nil, fmt.Errorf("mongo: set author of %s: %w", objectID, err)
	}
	return &registrystore.AuthorUpdate{
		ObjectID:      objectID,
		MatchedCount:  res.MatchedCount,
		ModifiedCount: res.ModifiedCount,
		Upserted:      res.UpsertedCount > 0,
	}, nil
}

func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
