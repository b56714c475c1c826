// Package mongo stores users and profiles in MongoDB. Unique indexes on
// users.email and on each profile collection's user_id back every
// check-then-insert sequence.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/hongminglow/homeservices-identity/internal/models"
	"github.com/hongminglow/homeservices-identity/internal/storage"
)

var _ storage.Store = (*Store)(nil)

const (
	usersCollection    = "users"
	customerCollection = "customers"
	workerCollection   = "worker_profiles"
)

// Config holds connection settings.
type Config struct {
	URL            string
	Database       string
	ConnectTimeout time.Duration
	RetryAttempts  int
	RetryInterval  time.Duration
}

// Store is a MongoDB-backed storage.Store.
type Store struct {
	client   *mongo.Client
	users    *mongo.Collection
	customer *mongo.Collection
	worker   *mongo.Collection
	now      func() time.Time
}

// NewStore connects with retries and ensures indexes exist.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 2 * time.Second
	}

	client, err := connect(ctx, cfg)
	if err != nil {
		return nil, err
	}

	db := client.Database(cfg.Database)
	s := &Store{
		client:   client,
		users:    db.Collection(usersCollection),
		customer: db.Collection(customerCollection),
		worker:   db.Collection(workerCollection),
		now:      time.Now,
	}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

func connect(ctx context.Context, cfg Config) (*mongo.Client, error) {
	var lastErr error
	for range cfg.RetryAttempts {
		client, err := mongo.Connect(options.Client().
			ApplyURI(cfg.URL).
			SetConnectTimeout(cfg.ConnectTimeout).
			SetRetryWrites(true).
			SetRetryReads(true))
		if err == nil {
			if err = client.Ping(ctx, nil); err == nil {
				return client, nil
			}
			_ = client.Disconnect(context.Background())
		}
		lastErr = err

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("connect to mongo: %w", ctx.Err())
		case <-time.After(cfg.RetryInterval):
		}
	}
	return nil, fmt.Errorf("connect to mongo: %w", lastErr)
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	unique := options.Index().SetUnique(true)
	indexes := []struct {
		coll  *mongo.Collection
		field string
	}{
		{s.users, "email"},
		{s.customer, "user_id"},
		{s.worker, "user_id"},
	}
	for _, idx := range indexes {
		if _, err := idx.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
			Keys:    bson.D{{Key: idx.field, Value: 1}},
			Options: unique,
		}); err != nil {
			return fmt.Errorf("create index %s.%s: %w", idx.coll.Name(), idx.field, err)
		}
	}
	return nil
}

// Close disconnects the client.
func (s *Store) Close() {
	if s.client == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.client.Disconnect(ctx)
}

type userDoc struct {
	ID           string     `bson:"_id"`
	Email        string     `bson:"email"`
	PasswordHash string     `bson:"password"`
	FullName     string     `bson:"full_name"`
	Phone        string     `bson:"phone"`
	Role         string     `bson:"role"`
	IsVerified   bool       `bson:"isVerified"`
	OTP          *string    `bson:"otp"`
	OTPExpires   *time.Time `bson:"otpExpires"`
	CreatedAt    time.Time  `bson:"createdAt"`
	UpdatedAt    time.Time  `bson:"updatedAt"`
}

func toUserDoc(u models.User) userDoc {
	return userDoc{
		ID: u.ID, Email: u.Email, PasswordHash: u.PasswordHash, FullName: u.FullName, Phone: u.Phone,
		Role: string(u.Role), IsVerified: u.IsVerified, OTP: u.OTP, OTPExpires: u.OTPExpires,
		CreatedAt: u.CreatedAt, UpdatedAt: u.UpdatedAt,
	}
}

func (d userDoc) model() models.User {
	u := models.User{
		ID: d.ID, Email: d.Email, PasswordHash: d.PasswordHash, FullName: d.FullName, Phone: d.Phone,
		Role: models.Role(d.Role), IsVerified: d.IsVerified, OTP: d.OTP, OTPExpires: d.OTPExpires,
		CreatedAt: d.CreatedAt.UTC(), UpdatedAt: d.UpdatedAt.UTC(),
	}
	if u.OTPExpires != nil {
		exp := u.OTPExpires.UTC()
		u.OTPExpires = &exp
	}
	return u
}

// userField maps whitelisted patch fields to document keys.
var userField = map[string]string{"full_name": "full_name", "phone": "phone"}

func (s *Store) CreateUser(ctx context.Context, user models.User) (models.User, error) {
	now := s.now().UTC()
	user.CreatedAt, user.UpdatedAt = now, now
	if _, err := s.users.InsertOne(ctx, toUserDoc(user)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return models.User{}, storage.ErrAlreadyExists
		}
		return models.User{}, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

func (s *Store) findUser(ctx context.Context, filter bson.M) (models.User, error) {
	var doc userDoc
	if err := s.users.FindOne(ctx, filter).Decode(&doc); err != nil {
		return models.User{}, notFound(err)
	}
	return doc.model(), nil
}

func (s *Store) FindByEmail(ctx context.Context, email string) (models.User, error) {
	return s.findUser(ctx, bson.M{"email": email})
}

func (s *Store) FindByID(ctx context.Context, id string) (models.User, error) {
	return s.findUser(ctx, bson.M{"_id": id})
}

func (s *Store) updateUser(ctx context.Context, filter, set bson.M) (models.User, error) {
	set["updatedAt"] = s.now().UTC()
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var doc userDoc
	if err := s.users.FindOneAndUpdate(ctx, filter, bson.M{"$set": set}, opts).Decode(&doc); err != nil {
		return models.User{}, notFound(err)
	}
	return doc.model(), nil
}

func (s *Store) UpdatePending(ctx context.Context, reg storage.PendingRegistration) (models.User, error) {
	return s.updateUser(ctx,
		bson.M{"email": reg.Email, "isVerified": false},
		bson.M{
			"password":   reg.PasswordHash,
			"full_name":  reg.FullName,
			"role":       string(reg.Role),
			"otp":        reg.Challenge.Code,
			"otpExpires": reg.Challenge.ExpiresAt.UTC(),
		})
}

func (s *Store) SetOTP(ctx context.Context, id string, ch storage.Challenge) error {
	res, err := s.users.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{
		"otp":        ch.Code,
		"otpExpires": ch.ExpiresAt.UTC(),
		"updatedAt":  s.now().UTC(),
	}})
	if err != nil {
		return fmt.Errorf("set otp: %w", err)
	}
	if res.MatchedCount == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) ConsumeOTP(ctx context.Context, id, code string, now time.Time) (models.User, error) {
	return s.updateUser(ctx,
		bson.M{"_id": id, "otp": code, "otpExpires": bson.M{"$gt": now.UTC()}},
		bson.M{"otp": nil, "otpExpires": nil, "isVerified": true})
}

func (s *Store) UpdateUser(ctx context.Context, id string, patch storage.Patch) (models.User, error) {
	set, err := patchSet(patch, storage.UserFields, userField)
	if err != nil {
		return models.User{}, err
	}
	return s.updateUser(ctx, bson.M{"_id": id}, set)
}

type profileDoc struct {
	ID        string    `bson:"_id"`
	UserID    string    `bson:"user_id"`
	FullName  string    `bson:"full_name,omitempty"`
	Email     string    `bson:"email,omitempty"`
	Phone     string    `bson:"phone,omitempty"`
	Address   string    `bson:"address,omitempty"`
	Bio       string    `bson:"bio,omitempty"`
	Location  string    `bson:"location,omitempty"`
	Status    string    `bson:"status,omitempty"`
	CreatedAt time.Time `bson:"createdAt"`
	UpdatedAt time.Time `bson:"updatedAt"`
}

func (d profileDoc) model(role models.Role) models.Profile {
	return models.Profile{
		ID: d.ID, UserID: d.UserID, Role: role, FullName: d.FullName, Email: d.Email, Phone: d.Phone,
		Address: d.Address, Bio: d.Bio, Location: d.Location, Status: d.Status,
		CreatedAt: d.CreatedAt.UTC(), UpdatedAt: d.UpdatedAt.UTC(),
	}
}

var profileField = map[string]string{
	"full_name": "full_name", "phone": "phone", "address": "address",
	"bio": "bio", "location": "location", "status": "status",
}

func (s *Store) profiles(role models.Role) *mongo.Collection {
	if role == models.RoleWorker {
		return s.worker
	}
	return s.customer
}

func (s *Store) FindProfile(ctx context.Context, role models.Role, userID string) (models.Profile, error) {
	var doc profileDoc
	if err := s.profiles(role).FindOne(ctx, bson.M{"user_id": userID}).Decode(&doc); err != nil {
		return models.Profile{}, notFound(err)
	}
	return doc.model(role), nil
}

func (s *Store) InsertProfile(ctx context.Context, p models.Profile) error {
	doc := profileDoc{
		ID: p.ID, UserID: p.UserID, FullName: p.FullName, Email: p.Email, Phone: p.Phone, Address: p.Address,
		Bio: p.Bio, Location: p.Location, Status: p.Status, CreatedAt: p.CreatedAt, UpdatedAt: p.UpdatedAt,
	}
	if _, err := s.profiles(p.Role).InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("insert profile: %w", err)
	}
	return nil
}

func (s *Store) UpdateProfile(ctx context.Context, role models.Role, userID string, patch storage.Patch) (models.Profile, error) {
	set, err := patchSet(patch, storage.ProfileFields(role), profileField)
	if err != nil {
		return models.Profile{}, err
	}
	set["updatedAt"] = s.now().UTC()
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var doc profileDoc
	if err := s.profiles(role).FindOneAndUpdate(ctx, bson.M{"user_id": userID}, bson.M{"$set": set}, opts).Decode(&doc); err != nil {
		return models.Profile{}, notFound(err)
	}
	return doc.model(role), nil
}

func patchSet(patch storage.Patch, wl storage.Whitelist, keys map[string]string) (bson.M, error) {
	if patch.Entity() != wl.Entity() || patch.Len() == 0 {
		return nil, storage.ErrInvalidPatch
	}
	set := bson.M{}
	for _, field := range patch.Fields() {
		key, ok := keys[field]
		if !ok || !wl.Allows(field) {
			return nil, storage.ErrInvalidPatch
		}
		value, _ := patch.Get(field)
		set[key] = value
	}
	return set, nil
}

func notFound(err error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return storage.ErrNotFound
	}
	return err
}
