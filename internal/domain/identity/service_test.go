package identity

import (
	"context"
	"io"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/careportal/portal/internal/platform/apperr"
	"github.com/careportal/portal/internal/platform/auth"
	"github.com/careportal/portal/internal/platform/cache"
)

// -- Mock Repository --

type mockUserRepo struct {
	users     map[uuid.UUID]*User
	listCalls int
}

func newMockUserRepo() *mockUserRepo {
	return &mockUserRepo{users: make(map[uuid.UUID]*User)}
}

func (m *mockUserRepo) Create(_ context.Context, u *User) error {
	for _, existing := range m.users {
		if existing.Email == u.Email {
			return ErrEmailTaken
		}
	}
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	u.CreatedAt = time.Now()
	u.UpdatedAt = u.CreatedAt
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *mockUserRepo) GetByID(_ context.Context, id uuid.UUID) (*User, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *mockUserRepo) GetByEmail(_ context.Context, email string) (*User, error) {
	for _, u := range m.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockUserRepo) UpdateProfile(_ context.Context, u *User) error {
	stored, ok := m.users[u.ID]
	if !ok {
		return ErrNotFound
	}
	if u.MaxPatients < stored.CurrentPatients {
		return ErrCapacityBelowLoad
	}
	u.CurrentPatients = stored.CurrentPatients
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *mockUserRepo) ListAcceptingProviders(_ context.Context, specialty string) ([]*ProviderListing, error) {
	m.listCalls++
	items := []*ProviderListing{}
	for _, u := range m.users {
		if u.Role != auth.RoleProvider || !u.AcceptingPatients() {
			continue
		}
		if specialty != "" && (u.Specialty == nil || !strings.EqualFold(*u.Specialty, specialty)) {
			continue
		}
		items = append(items, &ProviderListing{
			ID: u.ID, Name: u.Name, Specialty: u.Specialty,
			MaxPatients: u.MaxPatients, CurrentPatients: u.CurrentPatients,
			AvailableSlots: u.MaxPatients - u.CurrentPatients,
		})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	return items, nil
}

var testKey = []byte("identity-test-signing-key-0123456789")

func newTestService() (*Service, *mockUserRepo) {
	repo := newMockUserRepo()
	logger := zerolog.New(io.Discard)
	dir := NewDirectory(repo, cache.NewMemory(), time.Minute, logger)
	tokens := auth.NewTokenIssuer(testKey, "care-portal", time.Hour)
	return NewService(repo, tokens, dir, logger), repo
}

func registerProvider(t *testing.T, svc *Service, repo *mockUserRepo, name, specialty string, max, current int) *User {
	t.Helper()
	u, err := svc.Register(context.Background(), RegisterInput{
		Name: name, Email: strings.ToLower(strings.ReplaceAll(name, " ", ".")) + "@clinic.test",
		Password: "secret1", Role: auth.RoleProvider, Specialty: specialty, LicenseNumber: "LIC-1",
	})
	if err != nil {
		t.Fatalf("register provider: %v", err)
	}
	stored := repo.users[u.ID]
	stored.ProfileCompleted = true
	stored.MaxPatients = max
	stored.CurrentPatients = current
	return stored
}

func assertKind(t *testing.T, err error, kind apperr.Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", kind)
	}
	if got := apperr.KindOf(err); got != kind {
		t.Fatalf("expected %s error, got %s (%v)", kind, got, err)
	}
}

// -- Registration --

func TestService_Register_Patient(t *testing.T) {
	svc, repo := newTestService()
	u, err := svc.Register(context.Background(), RegisterInput{
		Name: "  Pat Doe ", Email: "Pat@Example.COM", Password: "secret1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u.Role != auth.RolePatient {
		t.Errorf("expected default role patient, got %s", u.Role)
	}
	if u.Email != "pat@example.com" {
		t.Errorf("expected lower-cased email, got %s", u.Email)
	}
	if u.Name != "Pat Doe" {
		t.Errorf("expected trimmed name, got %q", u.Name)
	}
	if repo.users[u.ID].PasswordHash == "secret1" || !auth.CheckPassword(repo.users[u.ID].PasswordHash, "secret1") {
		t.Error("expected bcrypt hash to be stored")
	}
}

func TestService_Register_Provider(t *testing.T) {
	svc, _ := newTestService()
	u, err := svc.Register(context.Background(), RegisterInput{
		Name: "Dr Who", Email: "who@clinic.test", Password: "secret1",
		Role: auth.RoleProvider, Specialty: "Cardiology", LicenseNumber: "LIC-9",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u.MaxPatients != DefaultMaxPatients || u.CurrentPatients != 0 {
		t.Errorf("unexpected capacity %d/%d", u.CurrentPatients, u.MaxPatients)
	}
	if u.ProfileCompleted {
		t.Error("new providers start with an incomplete profile")
	}
}

func TestService_Register_Validation(t *testing.T) {
	svc, _ := newTestService()
	tests := []struct {
		name string
		in   RegisterInput
	}{
		{"short password", RegisterInput{Name: "Pat", Email: "p@x.test", Password: "12345"}},
		{"bad email", RegisterInput{Name: "Pat", Email: "not-an-email", Password: "secret1"}},
		{"short name", RegisterInput{Name: "P", Email: "p@x.test", Password: "secret1"}},
		{"admin role", RegisterInput{Name: "Pat", Email: "p@x.test", Password: "secret1", Role: auth.RoleAdmin}},
		{"unknown role", RegisterInput{Name: "Pat", Email: "p@x.test", Password: "secret1", Role: "nurse"}},
		{"provider without license", RegisterInput{Name: "Doc", Email: "d@x.test", Password: "secret1", Role: auth.RoleProvider, Specialty: "GP"}},
		{"provider without specialty", RegisterInput{Name: "Doc", Email: "d@x.test", Password: "secret1", Role: auth.RoleProvider, LicenseNumber: "L"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Register(context.Background(), tt.in)
			assertKind(t, err, apperr.KindValidation)
		})
	}
}

func TestService_Register_DuplicateEmail(t *testing.T) {
	svc, _ := newTestService()
	in := RegisterInput{Name: "Pat", Email: "pat@x.test", Password: "secret1"}
	if _, err := svc.Register(context.Background(), in); err != nil {
		t.Fatalf("first registration: %v", err)
	}
	in.Email = "PAT@x.test"
	_, err := svc.Register(context.Background(), in)
	assertKind(t, err, apperr.KindConflict)
}

// -- Login --

func TestService_Login(t *testing.T) {
	svc, _ := newTestService()
	u, err := svc.Register(context.Background(), RegisterInput{Name: "Pat", Email: "pat@x.test", Password: "secret1"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	res, err := svc.Login(context.Background(), "PAT@x.test", "secret1", "clinic_a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Token == "" || res.User.ID != u.ID {
		t.Errorf("unexpected login result %+v", res)
	}
	if !res.ExpiresAt.After(time.Now()) {
		t.Error("expected expiry in the future")
	}
}

func TestService_Login_BadCredentials(t *testing.T) {
	svc, _ := newTestService()
	if _, err := svc.Register(context.Background(), RegisterInput{Name: "Pat", Email: "pat@x.test", Password: "secret1"}); err != nil {
		t.Fatalf("register: %v", err)
	}

	_, err := svc.Login(context.Background(), "pat@x.test", "wrong-pw", "default")
	assertKind(t, err, apperr.KindAuthentication)

	_, err = svc.Login(context.Background(), "nobody@x.test", "secret1", "default")
	assertKind(t, err, apperr.KindAuthentication)

	_, err = svc.Login(context.Background(), "", "", "default")
	assertKind(t, err, apperr.KindValidation)
}

// -- Profile --

func TestService_UpdateProfile_Patient(t *testing.T) {
	svc, _ := newTestService()
	u, _ := svc.Register(context.Background(), RegisterInput{Name: "Pat", Email: "pat@x.test", Password: "secret1"})

	blood := "O+"
	height := 172.5
	got, err := svc.UpdateProfile(context.Background(), u.ID, ProfileUpdate{
		BloodType: &blood, HeightCm: &height, Allergies: []string{"penicillin"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.BloodType == nil || *got.BloodType != "O+" || len(got.Allergies) != 1 {
		t.Errorf("profile not updated: %+v", got)
	}
}

func TestService_UpdateProfile_PhoneNumber(t *testing.T) {
	svc, _ := newTestService()
	u, _ := svc.Register(context.Background(), RegisterInput{Name: "Pat", Email: "pat@x.test", Password: "secret1"})

	for _, bad := range []string{"call me", "555-CALL", "+1 555 123 4567 ext. 9"} {
		bad := bad
		_, err := svc.UpdateProfile(context.Background(), u.ID, ProfileUpdate{PhoneNumber: &bad})
		assertKind(t, err, apperr.KindValidation)
	}

	good := " +1 (555) 123-4567 "
	got, err := svc.UpdateProfile(context.Background(), u.ID, ProfileUpdate{PhoneNumber: &good})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.PhoneNumber == nil || *got.PhoneNumber != "+1 (555) 123-4567" {
		t.Errorf("expected trimmed phone number, got %v", got.PhoneNumber)
	}
}

func TestService_UpdateProfile_RoleScopedFields(t *testing.T) {
	svc, repo := newTestService()
	pat, _ := svc.Register(context.Background(), RegisterInput{Name: "Pat", Email: "pat@x.test", Password: "secret1"})
	doc := registerProvider(t, svc, repo, "Doc One", "GP", 10, 0)

	max := 5
	_, err := svc.UpdateProfile(context.Background(), pat.ID, ProfileUpdate{MaxPatients: &max})
	assertKind(t, err, apperr.KindValidation)

	blood := "A+"
	_, err = svc.UpdateProfile(context.Background(), doc.ID, ProfileUpdate{BloodType: &blood})
	assertKind(t, err, apperr.KindValidation)
}

func TestService_UpdateProfile_MaxPatientsBounds(t *testing.T) {
	svc, repo := newTestService()
	doc := registerProvider(t, svc, repo, "Doc One", "GP", 10, 4)

	for _, v := range []int{0, 3} {
		v := v
		_, err := svc.UpdateProfile(context.Background(), doc.ID, ProfileUpdate{MaxPatients: &v})
		assertKind(t, err, apperr.KindValidation)
	}

	v := 4
	got, err := svc.UpdateProfile(context.Background(), doc.ID, ProfileUpdate{MaxPatients: &v})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.MaxPatients != 4 {
		t.Errorf("expected max 4, got %d", got.MaxPatients)
	}
}

func TestService_UpdateProfile_RaceBelowLoad(t *testing.T) {
	svc, repo := newTestService()
	doc := registerProvider(t, svc, repo, "Doc One", "GP", 10, 2)

	// Load grows after the service read but before the write.
	max := 3
	repoWithRace := &racingRepo{mockUserRepo: repo, bumpTo: 5}
	svc.users = repoWithRace

	_, err := svc.UpdateProfile(context.Background(), doc.ID, ProfileUpdate{MaxPatients: &max})
	assertKind(t, err, apperr.KindConflict)
}

type racingRepo struct {
	*mockUserRepo
	bumpTo int
}

func (r *racingRepo) UpdateProfile(ctx context.Context, u *User) error {
	r.users[u.ID].CurrentPatients = r.bumpTo
	return r.mockUserRepo.UpdateProfile(ctx, u)
}

func TestService_GetProfile_NotFound(t *testing.T) {
	svc, _ := newTestService()
	_, err := svc.GetProfile(context.Background(), uuid.New())
	assertKind(t, err, apperr.KindNotFound)
}

// -- Directory --

func TestService_ListAcceptingProviders(t *testing.T) {
	svc, repo := newTestService()
	registerProvider(t, svc, repo, "Alice Heart", "Cardiology", 10, 3)
	registerProvider(t, svc, repo, "Bob Full", "Cardiology", 2, 2)
	registerProvider(t, svc, repo, "Carol Skin", "Dermatology", 5, 0)
	incomplete := registerProvider(t, svc, repo, "Dan Draft", "Cardiology", 5, 0)
	incomplete.ProfileCompleted = false

	items, err := svc.ListAcceptingProviders(context.Background(), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 2 || items[0].Name != "Alice Heart" || items[1].Name != "Carol Skin" {
		t.Fatalf("unexpected directory %+v", items)
	}
	if items[0].AvailableSlots != 7 {
		t.Errorf("expected 7 free slots, got %d", items[0].AvailableSlots)
	}

	filtered, err := svc.ListAcceptingProviders(context.Background(), "dermatology")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(filtered) != 1 || filtered[0].Name != "Carol Skin" {
		t.Errorf("unexpected filtered directory %+v", filtered)
	}
}

func TestDirectory_CachesUntilInvalidated(t *testing.T) {
	svc, repo := newTestService()
	doc := registerProvider(t, svc, repo, "Alice Heart", "Cardiology", 10, 0)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := svc.ListAcceptingProviders(ctx, ""); err != nil {
			t.Fatalf("list: %v", err)
		}
	}
	if repo.listCalls != 1 {
		t.Fatalf("expected one repository read, got %d", repo.listCalls)
	}

	// A capacity change through the profile drops the cached entry.
	max := 1
	if _, err := svc.UpdateProfile(ctx, doc.ID, ProfileUpdate{MaxPatients: &max}); err != nil {
		t.Fatalf("update: %v", err)
	}
	items, _ := svc.ListAcceptingProviders(ctx, "")
	if repo.listCalls != 2 {
		t.Errorf("expected a fresh read after invalidation, got %d reads", repo.listCalls)
	}
	if len(items) != 1 || items[0].MaxPatients != 1 {
		t.Errorf("expected refreshed capacity, got %+v", items)
	}
}

func TestDirectory_FilteredQueriesBypassCache(t *testing.T) {
	svc, repo := newTestService()
	registerProvider(t, svc, repo, "Alice Heart", "Cardiology", 10, 0)

	for i := 0; i < 2; i++ {
		_, _ = svc.ListAcceptingProviders(context.Background(), "Cardiology")
	}
	if repo.listCalls != 2 {
		t.Errorf("expected filtered reads to hit the repository, got %d", repo.listCalls)
	}
}
