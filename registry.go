package uow

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"slices"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-arrower/uow/alog"
)

// Key identifies a repository of type R in the registry of a UnitOfWork.
// Two keys with the same name are the same registration, so
// one repository type can be registered multiple times under different names.
type Key[R any] struct {
	name string
}

func NewKey[R any](name string) Key[R] {
	return Key[R]{name: name}
}

func (k Key[R]) String() string {
	return k.name
}

// Constructor creates a repository working on the Session of the UnitOfWork.
// The UnitOfWork can be used to Get sibling repositories.
type Constructor[R any] func(s Session, u *UnitOfWork) (R, error)

type registration struct {
	repoType  string
	construct func(s Session, u *UnitOfWork) (any, error)
}

// Register records ctor under key. Registering the same key twice fails with ErrDuplicateKey.
func Register[R any](u *UnitOfWork, key Key[R], ctor Constructor[R]) error {
	if ctor == nil {
		return fmt.Errorf("%w: constructor for %s is nil", ErrConstruction, key)
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	if u.disposed.Load() {
		return ErrUseAfterDispose
	}

	if _, exists := u.constructors[key.name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateKey, key)
	}

	repoType := typeName[R]()
	u.constructors[key.name] = registration{
		repoType: repoType,
		construct: func(s Session, u *UnitOfWork) (any, error) {
			return ctor(s, u)
		},
	}

	u.logger.Log(context.Background(), alog.LevelDebug, "registered repository",
		slog.String("key", key.name),
		slog.String("type", repoType),
	)

	return nil
}

// Get returns the repository registered under key.
// It is constructed on the first call, every later call returns the same instance.
func Get[R any](ctx context.Context, u *UnitOfWork, key Key[R]) (R, error) { //nolint:ireturn // R is chosen by the caller
	var zero R

	u.mu.Lock()

	if u.disposed.Load() {
		u.mu.Unlock()
		return zero, ErrUseAfterDispose
	}

	repo, cached := u.repositories[key.name]
	reg, registered := u.constructors[key.name]

	u.mu.Unlock()

	if !cached {
		if !registered {
			return zero, fmt.Errorf("%w: %s", ErrNotRegistered, key)
		}

		// constructors run without the lock, so they can Get their siblings.
		constructed, err := u.construct(ctx, key.name, reg)
		if err != nil {
			return zero, err
		}

		u.mu.Lock()

		if u.disposed.Load() {
			u.mu.Unlock()
			return zero, ErrUseAfterDispose
		}

		if existing, ok := u.repositories[key.name]; ok {
			constructed = existing // a concurrent Get was faster, its instance wins
		} else {
			u.repositories[key.name] = constructed
		}

		u.mu.Unlock()

		repo = constructed
	}

	r, ok := repo.(R)
	if !ok {
		return zero, fmt.Errorf("%w: %s is a %T, not %s", ErrConstruction, key, repo, typeName[R]())
	}

	return r, nil
}

func (u *UnitOfWork) construct(ctx context.Context, key string, reg registration) (repo any, err error) {
	ctx, span := u.tracer.Start(ctx, "uow.construct", trace.WithAttributes(
		attribute.String("uow.id", u.id.String()),
		attribute.String("repository.key", key),
		attribute.String("repository.type", reg.repoType),
	))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			repo, err = nil, fmt.Errorf("%w: %s: constructor panicked: %v", ErrConstruction, key, r)
		}

		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			u.logger.Log(ctx, alog.LevelInfo, "could not construct repository", slog.String("key", key), alog.Error(err))
		}
	}()

	repo, err = reg.construct(u.guarded, u)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrConstruction, key, err)
	}

	if isNil(repo) {
		return nil, fmt.Errorf("%w: %s: constructor returned nil", ErrConstruction, key)
	}

	u.logger.Log(ctx, alog.LevelDebug, "constructed repository",
		slog.String("key", key),
		slog.String("type", reg.repoType),
	)

	return repo, nil
}

// BaseRepositoryOf returns a new generic repository for E working on the Session of u.
// It bypasses the registry: every call returns a new instance.
func BaseRepositoryOf[E any](u *UnitOfWork) (*BaseRepository[E], error) {
	if u.disposed.Load() {
		return nil, ErrUseAfterDispose
	}

	return NewRepository[E](u.guarded, u), nil
}

// Registered returns the sorted names of all registered keys.
func Registered(u *UnitOfWork) ([]string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.disposed.Load() {
		return nil, ErrUseAfterDispose
	}

	keys := make([]string, 0, len(u.constructors))
	for k := range u.constructors {
		keys = append(keys, k)
	}

	slices.Sort(keys)

	return keys, nil
}

func typeName[T any]() string {
	return reflect.TypeFor[T]().String()
}

func isNil(v any) bool {
	if v == nil {
		return true
	}

	val := reflect.ValueOf(v)

	switch val.Kind() { //nolint:exhaustive // only nillable kinds
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Interface, reflect.Chan:
		return val.IsNil()
	default:
		return false
	}
}
