package handlers

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"realtime-chat/internal/mocks"
	"realtime-chat/internal/models"
	"realtime-chat/internal/repositories"
	"realtime-chat/internal/ws"
)

func setupGroupRouter(handler *GroupHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("userID", "u1")
		c.Next()
	})
	r.POST("/creategroup", handler.CreateGroup)
	r.PUT("/groupadd", handler.AddMember)
	r.PUT("/groupremove", handler.RemoveMember)
	r.GET("/", handler.ListGroups)
	r.DELETE("/:id", handler.DeleteGroup)
	r.PUT("/exitgroup", handler.ExitGroup)
	return r
}

func TestCreateGroupSuccess(t *testing.T) {
	groupRepo := new(mocks.GroupRepositoryMock)
	handler := NewGroupHandler(groupRepo, ws.NewHub(), nil)
	router := setupGroupRouter(handler)

	groupRepo.On("CreateGroup", mock.Anything, "Team", "u1", []string{"u2", "u3"}).
		Return(models.Group{ID: "g1", ChatName: "Team", GroupAdmin: "u1", Users: []string{"u1", "u2", "u3"}, IsGroupChat: true}, nil).Once()

	body := bytes.NewBufferString(`{"name":"Team","users":"[\"u2\",\"u3\"]","currentUserId":"u1"}`)
	req := httptest.NewRequest(http.MethodPost, "/creategroup", body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	groupRepo.AssertExpectations(t)
}

func TestCreateGroupTooFewUsers(t *testing.T) {
	groupRepo := new(mocks.GroupRepositoryMock)
	handler := NewGroupHandler(groupRepo, ws.NewHub(), nil)
	router := setupGroupRouter(handler)

	// u1 is the creator, so only one distinct other user remains
	body := bytes.NewBufferString(`{"name":"Team","users":"[\"u2\",\"u2\",\"u1\"]"}`)
	req := httptest.NewRequest(http.MethodPost, "/creategroup", body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	groupRepo.AssertNotCalled(t, "CreateGroup", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestCreateGroupInvalidUsersPayload(t *testing.T) {
	handler := NewGroupHandler(new(mocks.GroupRepositoryMock), ws.NewHub(), nil)
	router := setupGroupRouter(handler)

	req := httptest.NewRequest(http.MethodPost, "/creategroup", bytes.NewBufferString(`{"name":"Team","users":"not json"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAddMemberRequiresAdmin(t *testing.T) {
	groupRepo := new(mocks.GroupRepositoryMock)
	handler := NewGroupHandler(groupRepo, ws.NewHub(), nil)
	router := setupGroupRouter(handler)

	groupRepo.On("GetGroup", mock.Anything, "g1").
		Return(models.Group{ID: "g1", GroupAdmin: "u2", Users: []string{"u1", "u2"}}, nil).Once()

	req := httptest.NewRequest(http.MethodPut, "/groupadd", bytes.NewBufferString(`{"chatId":"g1","userId":"u3"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
	groupRepo.AssertNotCalled(t, "AddMember", mock.Anything, mock.Anything, mock.Anything)
}

func TestAddMemberSuccess(t *testing.T) {
	groupRepo := new(mocks.GroupRepositoryMock)
	handler := NewGroupHandler(groupRepo, ws.NewHub(), nil)
	router := setupGroupRouter(handler)

	groupRepo.On("GetGroup", mock.Anything, "g1").
		Return(models.Group{ID: "g1", GroupAdmin: "u1", Users: []string{"u1", "u2"}}, nil).Once()
	groupRepo.On("AddMember", mock.Anything, "g1", "u3").
		Return(models.Group{ID: "g1", GroupAdmin: "u1", Users: []string{"u1", "u2", "u3"}}, nil).Once()

	req := httptest.NewRequest(http.MethodPut, "/groupadd", bytes.NewBufferString(`{"chatId":"g1","userId":"u3"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	groupRepo.AssertExpectations(t)
}

func TestRemoveMemberAdminItselfRejected(t *testing.T) {
	groupRepo := new(mocks.GroupRepositoryMock)
	handler := NewGroupHandler(groupRepo, ws.NewHub(), nil)
	router := setupGroupRouter(handler)

	groupRepo.On("GetGroup", mock.Anything, "g1").
		Return(models.Group{ID: "g1", GroupAdmin: "u1", Users: []string{"u1", "u2"}}, nil).Once()

	req := httptest.NewRequest(http.MethodPut, "/groupremove", bytes.NewBufferString(`{"chatId":"g1","userId":"u1"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
	groupRepo.AssertNotCalled(t, "RemoveMember", mock.Anything, mock.Anything, mock.Anything)
}

func TestDeleteGroupNotFound(t *testing.T) {
	groupRepo := new(mocks.GroupRepositoryMock)
	handler := NewGroupHandler(groupRepo, ws.NewHub(), nil)
	router := setupGroupRouter(handler)

	groupRepo.On("GetGroup", mock.Anything, "missing").
		Return(models.Group{}, repositories.ErrGroupNotFound).Once()

	req := httptest.NewRequest(http.MethodDelete, "/missing", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteGroupRequiresAdmin(t *testing.T) {
	groupRepo := new(mocks.GroupRepositoryMock)
	handler := NewGroupHandler(groupRepo, ws.NewHub(), nil)
	router := setupGroupRouter(handler)

	groupRepo.On("GetGroup", mock.Anything, "g1").
		Return(models.Group{ID: "g1", GroupAdmin: "u2", Users: []string{"u1", "u2"}}, nil).Once()

	req := httptest.NewRequest(http.MethodDelete, "/g1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
	groupRepo.AssertNotCalled(t, "DeleteGroup", mock.Anything, mock.Anything)
}

func TestDeleteGroupSuccess(t *testing.T) {
	groupRepo := new(mocks.GroupRepositoryMock)
	handler := NewGroupHandler(groupRepo, ws.NewHub(), nil)
	router := setupGroupRouter(handler)

	groupRepo.On("GetGroup", mock.Anything, "g1").
		Return(models.Group{ID: "g1", GroupAdmin: "u1", Users: []string{"u1", "u2", "u3"}}, nil).Once()
	groupRepo.On("DeleteGroup", mock.Anything, "g1").Return(nil).Once()

	req := httptest.NewRequest(http.MethodDelete, "/g1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	groupRepo.AssertExpectations(t)
}

func TestExitGroupAdminRejected(t *testing.T) {
	groupRepo := new(mocks.GroupRepositoryMock)
	handler := NewGroupHandler(groupRepo, ws.NewHub(), nil)
	router := setupGroupRouter(handler)

	groupRepo.On("GetGroup", mock.Anything, "g1").
		Return(models.Group{ID: "g1", GroupAdmin: "u1", Users: []string{"u1", "u2"}}, nil).Once()

	req := httptest.NewRequest(http.MethodPut, "/exitgroup", bytes.NewBufferString(`{"chatId":"g1"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
	groupRepo.AssertNotCalled(t, "RemoveMember", mock.Anything, mock.Anything, mock.Anything)
}

func TestExitGroupSuccess(t *testing.T) {
	groupRepo := new(mocks.GroupRepositoryMock)
	handler := NewGroupHandler(groupRepo, ws.NewHub(), nil)
	router := setupGroupRouter(handler)

	groupRepo.On("GetGroup", mock.Anything, "g1").
		Return(models.Group{ID: "g1", GroupAdmin: "u2", Users: []string{"u1", "u2", "u3"}}, nil).Once()
	groupRepo.On("RemoveMember", mock.Anything, "g1", "u1").
		Return(models.Group{ID: "g1", GroupAdmin: "u2", Users: []string{"u2", "u3"}}, nil).Once()

	req := httptest.NewRequest(http.MethodPut, "/exitgroup", bytes.NewBufferString(`{"chatId":"g1"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	groupRepo.AssertExpectations(t)
}

func TestListGroups(t *testing.T) {
	groupRepo := new(mocks.GroupRepositoryMock)
	handler := NewGroupHandler(groupRepo, ws.NewHub(), nil)
	router := setupGroupRouter(handler)

	groupRepo.On("ListGroupsForUser", mock.Anything, "u1").
		Return([]models.Group{{ID: "g1", ChatName: "Team"}}, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	groupRepo.AssertExpectations(t)
}
