package repositories

import (
	"context"
	"database/sql"
	"errors"
	"sort"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"realtime-chat/internal/models"
)

var ErrGroupNotFound = errors.New("group not found")

// GroupRepository is the conversation store adapter for group documents.
// Member add/remove are single-row operations, so concurrent updates against
// the same group never lose each other.
type GroupRepository interface {
	CreateGroup(ctx context.Context, name string, adminID string, memberIDs []string) (models.Group, error)
	GetGroup(ctx context.Context, groupID string) (models.Group, error)
	ListGroupsForUser(ctx context.Context, userID string) ([]models.Group, error)
	IsMember(ctx context.Context, groupID string, userID string) (bool, error)
	AddMember(ctx context.Context, groupID string, userID string) (models.Group, error)
	RemoveMember(ctx context.Context, groupID string, userID string) (models.Group, error)
	SetLatestMessage(ctx context.Context, groupID string, messageID string) error
	DeleteGroup(ctx context.Context, groupID string) error
}

// GroupRepo is a sqlx implementation of GroupRepository.
type GroupRepo struct {
	db *sqlx.DB
}

// NewGroupRepo constructs a GroupRepo.
func NewGroupRepo(db *sqlx.DB) *GroupRepo {
	return &GroupRepo{db: db}
}

// CreateGroup creates a group and its members atomically. The admin is always
// included in the member set.
func (r *GroupRepo) CreateGroup(ctx context.Context, name string, adminID string, memberIDs []string) (models.Group, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Group{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var group models.Group
	groupID := uuid.NewString()
	if err = tx.QueryRowxContext(ctx,
		`INSERT INTO groups (id, chat_name, group_admin) VALUES ($1, $2, $3)
         RETURNING id, chat_name, group_admin, latest_message, created_at, updated_at`,
		groupID, name, adminID).
		Scan(&group.ID, &group.ChatName, &group.GroupAdmin, &group.LatestMessage, &group.CreatedAt, &group.UpdatedAt); err != nil {
		return models.Group{}, err
	}

	memberSet := map[string]struct{}{adminID: {}}
	for _, id := range memberIDs {
		memberSet[id] = struct{}{}
	}
	ids := make([]string, 0, len(memberSet))
	for id := range memberSet {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		if _, err = tx.ExecContext(ctx, `INSERT INTO group_members (group_id, user_id) VALUES ($1, $2)`, group.ID, id); err != nil {
			return models.Group{}, err
		}
	}

	if err = tx.Commit(); err != nil {
		return models.Group{}, err
	}

	group.Users = ids
	group.IsGroupChat = true
	return group, nil
}

// GetGroup fetches a single group with its member set.
func (r *GroupRepo) GetGroup(ctx context.Context, groupID string) (models.Group, error) {
	var group models.Group
	err := r.db.GetContext(ctx, &group,
		`SELECT id, chat_name, group_admin, latest_message, created_at, updated_at FROM groups WHERE id=$1`, groupID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Group{}, ErrGroupNotFound
	}
	if err != nil {
		return models.Group{}, err
	}

	if err := r.db.SelectContext(ctx, &group.Users,
		`SELECT user_id FROM group_members WHERE group_id=$1 ORDER BY user_id`, groupID); err != nil {
		return models.Group{}, err
	}
	group.IsGroupChat = true
	return group, nil
}

// ListGroupsForUser returns groups containing the user, most recently
// updated first.
func (r *GroupRepo) ListGroupsForUser(ctx context.Context, userID string) ([]models.Group, error) {
	var groups []models.Group
	err := r.db.SelectContext(ctx, &groups,
		`SELECT g.id, g.chat_name, g.group_admin, g.latest_message, g.created_at, g.updated_at
         FROM groups g INNER JOIN group_members gm ON gm.group_id = g.id
         WHERE gm.user_id=$1 ORDER BY g.updated_at DESC`, userID)
	if err != nil {
		return nil, err
	}

	type memberRow struct {
		GroupID string `db:"group_id"`
		UserID  string `db:"user_id"`
	}
	var rows []memberRow
	err = r.db.SelectContext(ctx, &rows,
		`SELECT gm.group_id, gm.user_id FROM group_members gm
         INNER JOIN group_members me ON me.group_id = gm.group_id
         WHERE me.user_id=$1 ORDER BY gm.user_id`, userID)
	if err != nil {
		return nil, err
	}

	membersByGroup := map[string][]string{}
	for _, row := range rows {
		membersByGroup[row.GroupID] = append(membersByGroup[row.GroupID], row.UserID)
	}
	for i := range groups {
		groups[i].Users = membersByGroup[groups[i].ID]
		groups[i].IsGroupChat = true
	}
	return groups, nil
}

// IsMember checks membership.
func (r *GroupRepo) IsMember(ctx context.Context, groupID string, userID string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists,
		`SELECT EXISTS(SELECT 1 FROM group_members WHERE group_id=$1 AND user_id=$2)`, groupID, userID)
	return exists, err
}

// AddMember adds a user to the group's member set. Adding an existing member
// is a no-op.
func (r *GroupRepo) AddMember(ctx context.Context, groupID string, userID string) (models.Group, error) {
	if _, err := r.GetGroup(ctx, groupID); err != nil {
		return models.Group{}, err
	}
	if _, err := r.db.ExecContext(ctx,
		`INSERT INTO group_members (group_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, groupID, userID); err != nil {
		return models.Group{}, err
	}
	if _, err := r.db.ExecContext(ctx, `UPDATE groups SET updated_at = NOW() WHERE id=$1`, groupID); err != nil {
		return models.Group{}, err
	}
	return r.GetGroup(ctx, groupID)
}

// RemoveMember removes a user from the group's member set. Removing an absent
// user is a no-op.
func (r *GroupRepo) RemoveMember(ctx context.Context, groupID string, userID string) (models.Group, error) {
	if _, err := r.GetGroup(ctx, groupID); err != nil {
		return models.Group{}, err
	}
	if _, err := r.db.ExecContext(ctx,
		`DELETE FROM group_members WHERE group_id=$1 AND user_id=$2`, groupID, userID); err != nil {
		return models.Group{}, err
	}
	if _, err := r.db.ExecContext(ctx, `UPDATE groups SET updated_at = NOW() WHERE id=$1`, groupID); err != nil {
		return models.Group{}, err
	}
	return r.GetGroup(ctx, groupID)
}

// SetLatestMessage updates the group's latest-message back-reference.
func (r *GroupRepo) SetLatestMessage(ctx context.Context, groupID string, messageID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE groups SET latest_message=$2, updated_at = NOW() WHERE id=$1`, groupID, messageID)
	return err
}

// DeleteGroup removes the group, its membership rows and all of its messages
// in one transaction.
func (r *GroupRepo) DeleteGroup(ctx context.Context, groupID string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM messages WHERE chat_id=$1`, groupID); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM group_members WHERE group_id=$1`, groupID); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM groups WHERE id=$1`, groupID)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		err = ErrGroupNotFound
		return err
	}
	return tx.Commit()
}
