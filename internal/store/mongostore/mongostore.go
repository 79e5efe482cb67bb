// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package mongostore is the document-store engine. It wraps a local engine
// and serves every call from that fallback when the database could not be
// reached at startup.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"codeberg.org/oliverandrich/student-portal/internal/models"
	"codeberg.org/oliverandrich/student-portal/internal/store"
	"github.com/samber/lo"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const (
	usersCollection   = "users"
	pendingCollection = "pending_users"
	otpCollection     = "otp_codes"

	// Every lost race means another writer took the id, so this bounds the
	// number of concurrent writers a single insert can survive.
	insertAttempts = 10
)

// Options configures a Store.
type Options struct {
	URI            string
	Database       string
	ConnectTimeout time.Duration
	Sealer         *store.Sealer
	Admin          store.BootstrapAdmin
	Fallback       store.Store
	Now            func() time.Time
}

// Store implements store.Store on MongoDB. The connection state is decided
// once in New and never changes afterwards.
type Store struct {
	client    *mongo.Client
	db        *mongo.Database
	sealer    *store.Sealer
	fallback  store.Store
	now       func() time.Time
	connected bool
}

var _ store.Store = (*Store)(nil)

// New connects to MongoDB. If the server cannot be reached within
// opts.ConnectTimeout the returned Store delegates to opts.Fallback.
func New(ctx context.Context, opts Options) (*Store, error) {
	if opts.Fallback == nil {
		return nil, errors.New("mongostore: fallback store is required")
	}
	if opts.Sealer == nil {
		return nil, errors.New("mongostore: sealer is required")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 5 * time.Second
	}
	if opts.Database == "" {
		opts.Database = "student_portal"
	}

	s := &Store{sealer: opts.Sealer, fallback: opts.Fallback, now: opts.Now}

	client, err := connect(ctx, opts.URI, opts.ConnectTimeout)
	if err != nil {
		slog.Warn("mongo_unavailable", "error", err, "fallback", true)
		return s, nil
	}

	s.client = client
	s.db = client.Database(opts.Database)
	s.connected = true

	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to create indexes: %w", err)
	}
	if _, err := store.EnsureAdmin(ctx, s, opts.Admin); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	slog.Info("mongo_connected", "database", opts.Database)
	return s, nil
}

func connect(ctx context.Context, uri string, timeout time.Duration) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().
		ApplyURI(uri).
		SetConnectTimeout(timeout).
		SetServerSelectionTimeout(timeout))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return client, nil
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	unique := func(keys ...string) mongo.IndexModel {
		doc := bson.D{}
		for _, k := range keys {
			doc = append(doc, bson.E{Key: k, Value: 1})
		}
		return mongo.IndexModel{Keys: doc, Options: options.Index().SetUnique(true)}
	}

	indexes := map[string][]mongo.IndexModel{
		usersCollection:   {unique("id"), unique("email_index"), unique("username")},
		pendingCollection: {unique("id"), unique("email_index")},
		otpCollection: {
			unique("id"),
			{Keys: bson.D{{Key: "email_index", Value: 1}}},
			{Keys: bson.D{{Key: "expiresAt", Value: 1}}},
		},
	}
	for name, idx := range indexes {
		if _, err := s.db.Collection(name).Indexes().CreateMany(ctx, idx); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// Connected reports whether calls are served by MongoDB.
func (s *Store) Connected() bool {
	return s.connected
}

// Drop deletes the database. It is a no-op when not connected.
func (s *Store) Drop(ctx context.Context) error {
	if !s.connected {
		return nil
	}
	return s.db.Drop(ctx)
}

// Close disconnects from MongoDB and closes the fallback.
func (s *Store) Close(ctx context.Context) error {
	var errs []error
	if s.connected {
		errs = append(errs, s.client.Disconnect(ctx))
	}
	errs = append(errs, s.fallback.Close(ctx))
	return errors.Join(errs...)
}

func wrapError(err error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return store.ErrNotFound
	}
	return err
}

// nextID returns the highest id in coll plus one.
func (s *Store) nextID(ctx context.Context, coll *mongo.Collection) (int64, error) {
	var doc struct {
		ID int64 `bson:"id"`
	}
	err := coll.FindOne(ctx, bson.D{}, options.FindOne().SetSort(bson.D{{Key: "id", Value: -1}})).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 1, nil
	}
	if err != nil {
		return 0, err
	}
	return doc.ID + 1, nil
}

// insertNext inserts the document built for the next free id. A concurrent
// writer taking the same id is rejected by the unique index; the insert is
// then retried with a fresh id. A duplicate on any other unique index is
// reported as store.ErrConflict.
func (s *Store) insertNext(ctx context.Context, coll *mongo.Collection, build func(id int64) any) (int64, error) {
	var lastErr error
	for range insertAttempts {
		id, err := s.nextID(ctx, coll)
		if err != nil {
			return 0, err
		}
		_, err = coll.InsertOne(ctx, build(id))
		if err == nil {
			return id, nil
		}
		if !mongo.IsDuplicateKeyError(err) {
			return 0, err
		}
		if !isIDCollision(err) {
			return 0, store.ErrConflict
		}
		lastErr = err
	}
	return 0, lastErr
}

func isIDCollision(err error) bool {
	var we mongo.WriteException
	if !errors.As(err, &we) {
		return false
	}
	return lo.SomeBy(we.WriteErrors, func(e mongo.WriteError) bool {
		return strings.Contains(e.Message, "index: id_1 ")
	})
}

// ===== User Methods =====

type userDoc struct {
	ID             int64     `bson:"id"`
	Username       string    `bson:"username"`
	FullName       string    `bson:"fullName"`
	EmailEncrypted string    `bson:"email_encrypted"`
	EmailIndex     string    `bson:"email_index"`
	PasswordHash   string    `bson:"password"`
	Role           string    `bson:"role"`
	IsVerified     bool      `bson:"isVerified"`
	DegreeProgram  *string   `bson:"degreeProgram"`
	Subjects       []string  `bson:"subjects"`
	CreatedAt      time.Time `bson:"createdAt"`
}

func (s *Store) toUser(d userDoc) (*models.User, error) {
	email, err := s.sealer.Open(d.EmailEncrypted)
	if err != nil {
		return nil, err
	}
	return &models.User{
		ID:            d.ID,
		Username:      d.Username,
		FullName:      d.FullName,
		Email:         email,
		PasswordHash:  d.PasswordHash,
		Role:          models.Role(d.Role),
		IsVerified:    d.IsVerified,
		DegreeProgram: d.DegreeProgram,
		Subjects:      d.Subjects,
		CreatedAt:     d.CreatedAt.UTC(),
	}, nil
}

func (s *Store) findUser(ctx context.Context, filter bson.D) (*models.User, error) {
	var doc userDoc
	if err := s.db.Collection(usersCollection).FindOne(ctx, filter).Decode(&doc); err != nil {
		return nil, wrapError(err)
	}
	return s.toUser(doc)
}

// GetUser retrieves a user by ID.
func (s *Store) GetUser(ctx context.Context, id int64) (*models.User, error) {
	if !s.connected {
		return s.fallback.GetUser(ctx, id)
	}
	return s.findUser(ctx, bson.D{{Key: "id", Value: id}})
}

// GetUserByUsername retrieves a user by username.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	if !s.connected {
		return s.fallback.GetUserByUsername(ctx, username)
	}
	return s.findUser(ctx, bson.D{{Key: "username", Value: username}})
}

// GetUserByEmail retrieves a user by email address.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	if !s.connected {
		return s.fallback.GetUserByEmail(ctx, email)
	}
	return s.findUser(ctx, bson.D{{Key: "email_index", Value: s.sealer.Index(email)}})
}

// CreateUser creates an unverified student account.
func (s *Store) CreateUser(ctx context.Context, data models.NewUser) (*models.User, error) {
	if !s.connected {
		return s.fallback.CreateUser(ctx, data)
	}
	return s.createUser(ctx, data, models.RoleStudent, false)
}

// CreateAdminUser creates a verified admin account.
func (s *Store) CreateAdminUser(ctx context.Context, data models.NewUser) (*models.User, error) {
	if !s.connected {
		return s.fallback.CreateAdminUser(ctx, data)
	}
	return s.createUser(ctx, data, models.RoleAdmin, true)
}

func (s *Store) createUser(ctx context.Context, data models.NewUser, role models.Role, verified bool) (*models.User, error) {
	sealed, err := s.sealer.Seal(data.Email)
	if err != nil {
		return nil, err
	}

	users := s.db.Collection(usersCollection)
	taken, err := users.CountDocuments(ctx, bson.D{{Key: "$or", Value: bson.A{
		bson.D{{Key: "email_index", Value: sealed.Index}},
		bson.D{{Key: "username", Value: data.Username}},
	}}})
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	if taken > 0 {
		return nil, store.ErrConflict
	}

	// BSON dates carry millisecond precision.
	createdAt := s.now().UTC().Truncate(time.Millisecond)
	id, err := s.insertNext(ctx, users, func(id int64) any {
		return userDoc{
			ID:             id,
			Username:       data.Username,
			FullName:       data.FullName,
			EmailEncrypted: sealed.Encrypted,
			EmailIndex:     sealed.Index,
			PasswordHash:   data.PasswordHash,
			Role:           string(role),
			IsVerified:     verified,
			CreatedAt:      createdAt,
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	return &models.User{
		ID:           id,
		Username:     data.Username,
		FullName:     data.FullName,
		Email:        data.Email,
		PasswordHash: data.PasswordHash,
		Role:         role,
		IsVerified:   verified,
		CreatedAt:    createdAt,
	}, nil
}

// UpdateUser merges update into the user with the given ID.
func (s *Store) UpdateUser(ctx context.Context, id int64, update models.UserUpdate) (*models.User, error) {
	if !s.connected {
		return s.fallback.UpdateUser(ctx, id, update)
	}

	user, err := s.findUser(ctx, bson.D{{Key: "id", Value: id}})
	if err != nil {
		return nil, err
	}
	update.Apply(user)

	_, err = s.db.Collection(usersCollection).UpdateOne(ctx,
		bson.D{{Key: "id", Value: id}},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "fullName", Value: user.FullName},
			{Key: "password", Value: user.PasswordHash},
			{Key: "isVerified", Value: user.IsVerified},
			{Key: "degreeProgram", Value: user.DegreeProgram},
			{Key: "subjects", Value: user.Subjects},
		}}})
	if err != nil {
		return nil, fmt.Errorf("failed to update user: %w", err)
	}
	return user, nil
}

// UpdateUserProfile sets the degree program and subjects of a user.
func (s *Store) UpdateUserProfile(ctx context.Context, id int64, degreeProgram string, subjects []string) (*models.User, error) {
	if !s.connected {
		return s.fallback.UpdateUserProfile(ctx, id, degreeProgram, subjects)
	}
	return s.UpdateUser(ctx, id, store.ProfileUpdate(degreeProgram, subjects))
}

// ===== Pending User Methods =====

type pendingUserDoc struct {
	ID             int64     `bson:"id"`
	Username       string    `bson:"username"`
	FullName       string    `bson:"fullName"`
	EmailEncrypted string    `bson:"email_encrypted"`
	EmailIndex     string    `bson:"email_index"`
	PasswordHash   string    `bson:"password"`
	CreatedAt      time.Time `bson:"createdAt"`
}

// CreatePendingUser stores a pending signup, replacing any previous one for
// the same email.
func (s *Store) CreatePendingUser(ctx context.Context, data models.NewUser) (*models.PendingUser, error) {
	if !s.connected {
		return s.fallback.CreatePendingUser(ctx, data)
	}

	sealed, err := s.sealer.Seal(data.Email)
	if err != nil {
		return nil, err
	}

	coll := s.db.Collection(pendingCollection)
	if _, err := coll.DeleteMany(ctx, bson.D{{Key: "email_index", Value: sealed.Index}}); err != nil {
		return nil, fmt.Errorf("failed to replace pending user: %w", err)
	}

	createdAt := s.now().UTC().Truncate(time.Millisecond)
	id, err := s.insertNext(ctx, coll, func(id int64) any {
		return pendingUserDoc{
			ID:             id,
			Username:       data.Username,
			FullName:       data.FullName,
			EmailEncrypted: sealed.Encrypted,
			EmailIndex:     sealed.Index,
			PasswordHash:   data.PasswordHash,
			CreatedAt:      createdAt,
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create pending user: %w", err)
	}

	return &models.PendingUser{
		ID:           id,
		Username:     data.Username,
		FullName:     data.FullName,
		Email:        data.Email,
		PasswordHash: data.PasswordHash,
		CreatedAt:    createdAt,
	}, nil
}

// GetPendingUserByEmail retrieves the pending signup for email.
func (s *Store) GetPendingUserByEmail(ctx context.Context, email string) (*models.PendingUser, error) {
	if !s.connected {
		return s.fallback.GetPendingUserByEmail(ctx, email)
	}

	var doc pendingUserDoc
	err := s.db.Collection(pendingCollection).
		FindOne(ctx, bson.D{{Key: "email_index", Value: s.sealer.Index(email)}}).
		Decode(&doc)
	if err != nil {
		return nil, wrapError(err)
	}

	plain, err := s.sealer.Open(doc.EmailEncrypted)
	if err != nil {
		return nil, err
	}
	return &models.PendingUser{
		ID:           doc.ID,
		Username:     doc.Username,
		FullName:     doc.FullName,
		Email:        plain,
		PasswordHash: doc.PasswordHash,
		CreatedAt:    doc.CreatedAt.UTC(),
	}, nil
}

// DeletePendingUser removes the pending signup for email, if any.
func (s *Store) DeletePendingUser(ctx context.Context, email string) error {
	if !s.connected {
		return s.fallback.DeletePendingUser(ctx, email)
	}
	_, err := s.db.Collection(pendingCollection).DeleteMany(ctx, bson.D{{Key: "email_index", Value: s.sealer.Index(email)}})
	return err
}

// ===== OTP Methods =====

type otpDoc struct {
	ID             int64     `bson:"id"`
	EmailEncrypted string    `bson:"email_encrypted"`
	EmailIndex     string    `bson:"email_index"`
	Code           string    `bson:"code"`
	ExpiresAt      time.Time `bson:"expiresAt"`
	IsUsed         bool      `bson:"isUsed"`
	CreatedAt      time.Time `bson:"createdAt"`
}

func (s *Store) toOtp(d otpDoc) (*models.OtpCode, error) {
	email, err := s.sealer.Open(d.EmailEncrypted)
	if err != nil {
		return nil, err
	}
	return &models.OtpCode{
		ID:        d.ID,
		Email:     email,
		Code:      d.Code,
		ExpiresAt: d.ExpiresAt.UTC(),
		IsUsed:    d.IsUsed,
		CreatedAt: d.CreatedAt.UTC(),
	}, nil
}

// CreateOtpCode stores a new unused passcode.
func (s *Store) CreateOtpCode(ctx context.Context, data models.NewOtpCode) (*models.OtpCode, error) {
	if !s.connected {
		return s.fallback.CreateOtpCode(ctx, data)
	}

	sealed, err := s.sealer.Seal(data.Email)
	if err != nil {
		return nil, err
	}

	createdAt := s.now().UTC().Truncate(time.Millisecond)
	expiresAt := data.ExpiresAt.UTC().Truncate(time.Millisecond)
	id, err := s.insertNext(ctx, s.db.Collection(otpCollection), func(id int64) any {
		return otpDoc{
			ID:             id,
			EmailEncrypted: sealed.Encrypted,
			EmailIndex:     sealed.Index,
			Code:           data.Code,
			ExpiresAt:      expiresAt,
			CreatedAt:      createdAt,
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create otp code: %w", err)
	}

	return &models.OtpCode{
		ID:        id,
		Email:     data.Email,
		Code:      data.Code,
		ExpiresAt: expiresAt,
		CreatedAt: createdAt,
	}, nil
}

func (s *Store) findOtp(ctx context.Context, email, code string, includeUsed bool) (*models.OtpCode, error) {
	filter := bson.D{
		{Key: "email_index", Value: s.sealer.Index(email)},
		{Key: "code", Value: code},
		{Key: "expiresAt", Value: bson.D{{Key: "$gt", Value: s.now()}}},
	}
	if !includeUsed {
		filter = append(filter, bson.E{Key: "isUsed", Value: false})
	}

	var doc otpDoc
	err := s.db.Collection(otpCollection).
		FindOne(ctx, filter, options.FindOne().SetSort(bson.D{{Key: "id", Value: 1}})).
		Decode(&doc)
	if err != nil {
		return nil, wrapError(err)
	}
	return s.toOtp(doc)
}

// GetValidOtpCode returns an unused, unexpired code matching email and code.
func (s *Store) GetValidOtpCode(ctx context.Context, email, code string) (*models.OtpCode, error) {
	if !s.connected {
		return s.fallback.GetValidOtpCode(ctx, email, code)
	}
	return s.findOtp(ctx, email, code, false)
}

// CheckOtpCodeValidity returns an unexpired code matching email and code,
// whether or not it has been used.
func (s *Store) CheckOtpCodeValidity(ctx context.Context, email, code string) (*models.OtpCode, error) {
	if !s.connected {
		return s.fallback.CheckOtpCodeValidity(ctx, email, code)
	}
	return s.findOtp(ctx, email, code, true)
}

// ListOtpCodes returns every stored code for email in creation order.
func (s *Store) ListOtpCodes(ctx context.Context, email string) ([]models.OtpCode, error) {
	if !s.connected {
		return s.fallback.ListOtpCodes(ctx, email)
	}

	cursor, err := s.db.Collection(otpCollection).Find(ctx,
		bson.D{{Key: "email_index", Value: s.sealer.Index(email)}},
		options.Find().SetSort(bson.D{{Key: "id", Value: 1}}))
	if err != nil {
		return nil, err
	}

	var docs []otpDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}

	codes := make([]models.OtpCode, 0, len(docs))
	for _, d := range docs {
		otp, err := s.toOtp(d)
		if err != nil {
			return nil, err
		}
		codes = append(codes, *otp)
	}
	return codes, nil
}

// MarkOtpAsUsed flags a code as consumed. Unknown IDs are ignored.
func (s *Store) MarkOtpAsUsed(ctx context.Context, id int64) error {
	if !s.connected {
		return s.fallback.MarkOtpAsUsed(ctx, id)
	}
	_, err := s.db.Collection(otpCollection).UpdateOne(ctx,
		bson.D{{Key: "id", Value: id}},
		bson.D{{Key: "$set", Value: bson.D{{Key: "isUsed", Value: true}}}})
	return err
}

// CleanupExpiredOtps deletes every expired code.
func (s *Store) CleanupExpiredOtps(ctx context.Context) (int64, error) {
	if !s.connected {
		return s.fallback.CleanupExpiredOtps(ctx)
	}
	res, err := s.db.Collection(otpCollection).DeleteMany(ctx,
		bson.D{{Key: "expiresAt", Value: bson.D{{Key: "$lte", Value: s.now()}}}})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}
