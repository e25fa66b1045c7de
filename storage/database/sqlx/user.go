package sqlxrepos

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/sayghamsari/daftarrabet/core"
	"github.com/sayghamsari/daftarrabet/core/user"
)

type userRow struct {
	ID            string         `db:"id"`
	SchoolID      null.String    `db:"school_id"`
	NationalID    string         `db:"national_id"`
	Phone         string         `db:"phone"`
	Name          string         `db:"name"`
	Email         null.String    `db:"email"`
	Roles         pq.StringArray `db:"roles"`
	IsActive      bool           `db:"is_active"`
	ParentID      null.String    `db:"parent_id"`
	BehaviorScore float64        `db:"behavior_score"`
	PasswordHash  string         `db:"password_hash"`
	TrialEndsAt   time.Time      `db:"trial_ends_at"`
	LastLogin     null.Time      `db:"last_login"`
	CreatedAt     time.Time      `db:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at"`
}

var (
	userColumns = []string{
		"id", "school_id", "national_id", "phone", "name", "email", "roles", "is_active", "parent_id",
		"behavior_score", "password_hash", "trial_ends_at", "last_login", "created_at", "updated_at",
	}
	// behavior_score is only moved by AdjustBehaviorScore
	userUpdateColumns = []string{
		"id", "school_id", "national_id", "phone", "name", "email", "roles", "is_active", "parent_id",
		"password_hash", "last_login", "updated_at",
	}
	userOrdering = map[string]string{
		"name":           "name",
		"national_id":    "national_id",
		"behavior_score": "behavior_score",
		"created_at":     "created_at",
		"last_login":     "last_login",
	}
)

func toUserRow(usr user.User) userRow {
	roles := usr.Roles
	if roles == nil {
		roles = []string{}
	}
	return userRow{
		ID:            usr.ID,
		SchoolID:      nullString(usr.SchoolID),
		NationalID:    usr.NationalID,
		Phone:         usr.Phone,
		Name:          usr.Name,
		Email:         nullString(usr.Email),
		Roles:         roles,
		IsActive:      usr.IsActive,
		ParentID:      nullString(usr.ParentID),
		BehaviorScore: usr.BehaviorScore,
		PasswordHash:  usr.PasswordHash,
		TrialEndsAt:   usr.TrialEndsAt.UTC(),
		LastLogin:     nullTime(usr.LastLogin),
		CreatedAt:     usr.CreatedAt.UTC(),
		UpdatedAt:     usr.UpdatedAt.UTC(),
	}
}

func (r userRow) user() user.User {
	return user.User{
		ID:            r.ID,
		SchoolID:      r.SchoolID.String,
		NationalID:    r.NationalID,
		Phone:         r.Phone,
		Name:          r.Name,
		Email:         r.Email.String,
		Roles:         r.Roles,
		IsActive:      r.IsActive,
		ParentID:      r.ParentID.String,
		BehaviorScore: r.BehaviorScore,
		PasswordHash:  r.PasswordHash,
		TrialEndsAt:   r.TrialEndsAt,
		LastLogin:     r.LastLogin.Time,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

func toUsers(rows []userRow) []user.User {
	users := make([]user.User, 0, len(rows))
	for _, r := range rows {
		users = append(users, r.user())
	}
	return users
}

type userRepository struct {
	repository
}

var _ user.Repository = (*userRepository)(nil) // interface compliance check

func NewUserRepository(exec core.DBExecutor) *userRepository {
	return &userRepository{repository{exec: exec}}
}

func (repo userRepository) CheckUniqueness(ctx context.Context, nationalID, phone, email string, excludedIDs []string, exec ...core.DBExecutor) error {
	taken := sq.Or{sq.Eq{"national_id": nationalID}, sq.Eq{"phone": phone}}
	if email != "" {
		taken = append(taken, sq.Eq{"email": email})
	}
	q := psql.Select("national_id", "phone", "email").From("users").Where(taken).Limit(1)
	if len(excludedIDs) > 0 {
		q = q.Where(sq.NotEq{"id": excludedIDs})
	}

	var rows []userRow
	if err := repo.selectAll(ctx, &rows, q, exec...); err != nil {
		return errors.Wrap(err, "checking user uniqueness")
	}
	if len(rows) == 0 {
		return nil
	}
	switch found := rows[0]; {
	case found.NationalID == nationalID:
		return user.ErrNationalIDExists
	case found.Phone == phone:
		return user.ErrPhoneExists
	default:
		return user.ErrEmailExists
	}
}

func (repo userRepository) CreateUser(ctx context.Context, usr user.User, exec ...core.DBExecutor) (user.User, error) {
	usr.ID = newID()
	row := toUserRow(usr)
	if err := repo.insert(ctx, "users", userColumns, row, exec...); err != nil {
		return user.User{}, errors.Wrap(err, "inserting user")
	}
	return row.user(), nil
}

func (repo userRepository) QueryUsers(ctx context.Context, filter *user.QueryFilter, ordering []core.DBOrdering, page core.Page, exec ...core.DBExecutor) ([]user.User, error) {
	q := psql.Select(userColumns...).From("users")

	if filter != nil {
		if filter.Search != "" {
			q = q.Where(search(filter.Search, "name", "national_id", "phone", "email"))
		}
		// users with any role that starts with any of the provided roles
		if len(filter.Roles) > 0 {
			roles := make(sq.Or, 0, len(filter.Roles))
			for _, role := range filter.Roles {
				roles = append(roles, sq.Expr("EXISTS (SELECT 1 FROM UNNEST(roles) user_role WHERE user_role LIKE ?)", role+"%"))
			}
			q = q.Where(roles)
		}
		if filter.IsActive != nil {
			q = q.Where(sq.Eq{"is_active": *filter.IsActive})
		}
		q = dayRange(q, "created_at", filter.CreatedFrom, filter.CreatedTo)
		if filter.ParentID != "" {
			q = q.Where(idEq("parent_id", filter.ParentID))
		}
		if filter.SchoolID != "" {
			q = q.Where(sq.Eq{"school_id": filter.SchoolID})
		}
		if filter.IDs != nil {
			q = q.Where(sq.Eq{"id": filter.IDs})
		}
	}
	q = paginate(orderBy(q, ordering, userOrdering, "name ASC"), page)

	var rows []userRow
	if err := repo.selectAll(ctx, &rows, q, exec...); err != nil {
		return nil, errors.Wrap(err, "querying users")
	}
	return toUsers(rows), nil
}

func (repo userRepository) getUser(ctx context.Context, where sq.Eq, exec ...core.DBExecutor) (user.User, error) {
	var row userRow
	if err := repo.getOne(ctx, &row, psql.Select(userColumns...).From("users").Where(where), exec...); err != nil {
		return user.User{}, trapNoRowsErr(err, user.ErrNotFound, "finding user")
	}
	return row.user(), nil
}

func (repo userRepository) GetUserByID(ctx context.Context, id string, exec ...core.DBExecutor) (user.User, error) {
	if !validID(id) {
		return user.User{}, user.ErrNotFound
	}
	return repo.getUser(ctx, sq.Eq{"id": id}, exec...)
}

func (repo userRepository) GetUserByNationalID(ctx context.Context, nationalID string, exec ...core.DBExecutor) (user.User, error) {
	return repo.getUser(ctx, sq.Eq{"national_id": nationalID}, exec...)
}

func (repo userRepository) UpdateUser(ctx context.Context, usr user.User, exec ...core.DBExecutor) (user.User, error) {
	found, err := repo.update(ctx, "users", userUpdateColumns, toUserRow(usr), exec...)
	if err != nil {
		return user.User{}, errors.Wrap(err, "updating user")
	}
	if !found {
		return user.User{}, user.ErrNotFound
	}
	return usr, nil
}

func (repo userRepository) SetLastLogin(ctx context.Context, id string, lastLogin time.Time, exec ...core.DBExecutor) error {
	q := psql.Update("users").Set("last_login", lastLogin.UTC()).Where(sq.Eq{"id": id})
	_, err := repo.execute(ctx, q, exec...)
	return errors.Wrap(err, "setting last login")
}

func (repo userRepository) AdjustBehaviorScore(ctx context.Context, id string, delta float64, exec ...core.DBExecutor) (float64, error) {
	q := psql.Update("users").
		Set("behavior_score", sq.Expr("LEAST(?::float8, GREATEST(?::float8, behavior_score + ?))", float64(user.MaxBehaviorScore), float64(user.MinBehaviorScore), delta)).
		Set("updated_at", core.Now()).
		Where(sq.Eq{"id": id}).
		Suffix("RETURNING behavior_score")

	var score float64
	if err := repo.getOne(ctx, &score, q, exec...); err != nil {
		return 0, trapNoRowsErr(err, user.ErrNotFound, "adjusting behavior score")
	}
	return score, nil
}

func (repo userRepository) DeleteUsersByID(ctx context.Context, ids []string, exec ...core.DBExecutor) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := repo.execute(ctx, psql.Delete("users").Where(sq.Eq{"id": ids}), exec...)
	return errors.Wrap(err, "deleting users")
}

type otpRow struct {
	Phone     string    `db:"phone"`
	CodeHash  string    `db:"code_hash"`
	Attempts  int       `db:"attempts"`
	ExpiresAt time.Time `db:"expires_at"`
	CreatedAt time.Time `db:"created_at"`
}

type otpRepository struct {
	repository
}

var _ user.OTPRepository = (*otpRepository)(nil)

func NewOTPRepository(exec core.DBExecutor) *otpRepository {
	return &otpRepository{repository{exec: exec}}
}

func (repo otpRepository) SaveOTP(ctx context.Context, otp user.OTP, exec ...core.DBExecutor) error {
	q := psql.Insert("otp_codes").
		Columns("phone", "code_hash", "attempts", "expires_at", "created_at").
		Values(otp.Phone, otp.CodeHash, 0, otp.ExpiresAt.UTC(), otp.CreatedAt.UTC()).
		Suffix("ON CONFLICT (phone) DO UPDATE SET code_hash = EXCLUDED.code_hash, attempts = 0, " +
			"expires_at = EXCLUDED.expires_at, created_at = EXCLUDED.created_at")
	_, err := repo.execute(ctx, q, exec...)
	return errors.Wrap(err, "saving otp")
}

func (repo otpRepository) GetOTP(ctx context.Context, phone string, exec ...core.DBExecutor) (user.OTP, error) {
	var row otpRow
	q := psql.Select("phone", "code_hash", "attempts", "expires_at", "created_at").From("otp_codes").Where(sq.Eq{"phone": phone})
	if err := repo.getOne(ctx, &row, q, exec...); err != nil {
		return user.OTP{}, trapNoRowsErr(err, user.ErrOTPNotFound, "finding otp")
	}
	return user.OTP{Phone: row.Phone, CodeHash: row.CodeHash, Attempts: row.Attempts, ExpiresAt: row.ExpiresAt, CreatedAt: row.CreatedAt}, nil
}

func (repo otpRepository) IncrementOTPAttempts(ctx context.Context, phone string, exec ...core.DBExecutor) error {
	q := psql.Update("otp_codes").Set("attempts", sq.Expr("attempts + 1")).Where(sq.Eq{"phone": phone})
	_, err := repo.execute(ctx, q, exec...)
	return errors.Wrap(err, "incrementing otp attempts")
}

func (repo otpRepository) DeleteOTP(ctx context.Context, phone string, exec ...core.DBExecutor) error {
	_, err := repo.execute(ctx, psql.Delete("otp_codes").Where(sq.Eq{"phone": phone}), exec...)
	return errors.Wrap(err, "deleting otp")
}
