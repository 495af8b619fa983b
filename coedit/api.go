package coedit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

const defaultHttpTimeout = 60 * time.Second
const defaultHttpConnectTimeout = 5 * time.Second
const defaultHttpTlsTimeout = 5 * time.Second

func defaultClient() *http.Client {
	dialer := &net.Dialer{
		Timeout: defaultHttpConnectTimeout,
	}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: defaultHttpTlsTimeout,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   defaultHttpTimeout,
	}
}

// HttpError is a non-2xx response from the persistence API,
// keyed by HTTP status and the operation that failed.
type HttpError struct {
	Status int
	Op     string
}

func (self *HttpError) Error() string {
	return fmt.Sprintf("%s: status %d", self.Op, self.Status)
}

// IsAuthError reports whether err means the session is invalid.
// 401 and 403 are the only session-invalid statuses.
func IsAuthError(err error) bool {
	if httpError, ok := err.(*HttpError); ok {
		return httpError.Status == http.StatusUnauthorized || httpError.Status == http.StatusForbidden
	}
	return false
}

type apiCallback[R any] interface {
	Result(result R, err error)
}

// for internal use
type simpleApiCallback[R any] struct {
	callback func(result R, err error)
}

func NewApiCallback[R any](callback func(result R, err error)) apiCallback[R] {
	return &simpleApiCallback[R]{
		callback: callback,
	}
}

func NewNoopApiCallback[R any]() apiCallback[R] {
	return &simpleApiCallback[R]{
		callback: func(result R, err error) {},
	}
}

func (self *simpleApiCallback[R]) Result(result R, err error) {
	self.callback(result, err)
}

type ApiCallbackResult[R any] struct {
	Result R
	Error  error
}

func NewBlockingApiCallback[R any]() (apiCallback[R], chan ApiCallbackResult[R]) {
	c := make(chan ApiCallbackResult[R])
	apiCallback := NewApiCallback[R](func(result R, err error) {
		c <- ApiCallbackResult[R]{
			Result: result,
			Error:  err,
		}
	})
	return apiCallback, c
}

// Api is the typed request/response wrapper around the persistence
// service. It holds no document state. Retry policy belongs to the
// caller, not here.
type Api struct {
	ctx    context.Context
	cancel context.CancelFunc

	apiUrl string

	token string
}

func NewApi(apiUrl string) *Api {
	return NewApiWithContext(context.Background(), apiUrl)
}

func NewApiWithContext(ctx context.Context, apiUrl string) *Api {
	cancelCtx, cancel := context.WithCancel(ctx)

	return &Api{
		ctx:    cancelCtx,
		cancel: cancel,
		apiUrl: apiUrl,
	}
}

// this gets attached to api calls that need it
func (self *Api) SetToken(token string) {
	self.token = token
}

func (self *Api) Close() {
	self.cancel()
}

type GetItemsCallback apiCallback[[]*Document]

func (self *Api) GetItems(callback GetItemsCallback) {
	go request(
		self.ctx,
		"GET",
		fmt.Sprintf("%s/api/items", self.apiUrl),
		nil,
		self.token,
		[]*Document{},
		"GET /api/items",
		callback,
	)
}

func (self *Api) GetItemsSync() ([]*Document, error) {
	return request(
		self.ctx,
		"GET",
		fmt.Sprintf("%s/api/items", self.apiUrl),
		nil,
		self.token,
		[]*Document{},
		"GET /api/items",
		NewNoopApiCallback[[]*Document](),
	)
}

type CreateItemCallback apiCallback[*Document]

type CreateItemArgs struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

func (self *Api) CreateItem(createItem *CreateItemArgs, callback CreateItemCallback) {
	go request(
		self.ctx,
		"POST",
		fmt.Sprintf("%s/api/items", self.apiUrl),
		createItem,
		self.token,
		&Document{},
		"POST /api/items",
		callback,
	)
}

func (self *Api) CreateItemSync(createItem *CreateItemArgs) (*Document, error) {
	return request(
		self.ctx,
		"POST",
		fmt.Sprintf("%s/api/items", self.apiUrl),
		createItem,
		self.token,
		&Document{},
		"POST /api/items",
		NewNoopApiCallback[*Document](),
	)
}

type UpdateItemCallback apiCallback[*Document]

// partial update. nil fields are left untouched by the server.
type UpdateItemArgs struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
}

func (self *Api) UpdateItem(itemId string, updateItem *UpdateItemArgs, callback UpdateItemCallback) {
	go request(
		self.ctx,
		"PUT",
		fmt.Sprintf("%s/api/items/%s", self.apiUrl, itemId),
		updateItem,
		self.token,
		&Document{},
		fmt.Sprintf("PUT /api/items/%s", itemId),
		callback,
	)
}

func (self *Api) UpdateItemSync(itemId string, updateItem *UpdateItemArgs) (*Document, error) {
	return request(
		self.ctx,
		"PUT",
		fmt.Sprintf("%s/api/items/%s", self.apiUrl, itemId),
		updateItem,
		self.token,
		&Document{},
		fmt.Sprintf("PUT /api/items/%s", itemId),
		NewNoopApiCallback[*Document](),
	)
}

type DeleteItemCallback apiCallback[*DeleteItemResult]

type DeleteItemResult struct {
	Deleted bool `json:"deleted,omitempty"`
}

func (self *Api) DeleteItem(itemId string, callback DeleteItemCallback) {
	go request(
		self.ctx,
		"DELETE",
		fmt.Sprintf("%s/api/items/%s", self.apiUrl, itemId),
		nil,
		self.token,
		&DeleteItemResult{},
		fmt.Sprintf("DELETE /api/items/%s", itemId),
		callback,
	)
}

func (self *Api) DeleteItemSync(itemId string) (*DeleteItemResult, error) {
	return request(
		self.ctx,
		"DELETE",
		fmt.Sprintf("%s/api/items/%s", self.apiUrl, itemId),
		nil,
		self.token,
		&DeleteItemResult{},
		fmt.Sprintf("DELETE /api/items/%s", itemId),
		NewNoopApiCallback[*DeleteItemResult](),
	)
}

type GetCommentsCallback apiCallback[[]*Comment]

func (self *Api) GetComments(itemId string, callback GetCommentsCallback) {
	go request(
		self.ctx,
		"GET",
		fmt.Sprintf("%s/api/items/%s/comments", self.apiUrl, itemId),
		nil,
		self.token,
		[]*Comment{},
		fmt.Sprintf("GET /api/items/%s/comments", itemId),
		callback,
	)
}

func (self *Api) GetCommentsSync(itemId string) ([]*Comment, error) {
	return request(
		self.ctx,
		"GET",
		fmt.Sprintf("%s/api/items/%s/comments", self.apiUrl, itemId),
		nil,
		self.token,
		[]*Comment{},
		fmt.Sprintf("GET /api/items/%s/comments", itemId),
		NewNoopApiCallback[[]*Comment](),
	)
}

type CreateCommentCallback apiCallback[*Comment]

type CreateCommentArgs struct {
	Line int    `json:"line"`
	Text string `json:"text"`
}

func (self *Api) CreateComment(itemId string, createComment *CreateCommentArgs, callback CreateCommentCallback) {
	go request(
		self.ctx,
		"POST",
		fmt.Sprintf("%s/api/items/%s/comments", self.apiUrl, itemId),
		createComment,
		self.token,
		&Comment{},
		fmt.Sprintf("POST /api/items/%s/comments", itemId),
		callback,
	)
}

func (self *Api) CreateCommentSync(itemId string, createComment *CreateCommentArgs) (*Comment, error) {
	return request(
		self.ctx,
		"POST",
		fmt.Sprintf("%s/api/items/%s/comments", self.apiUrl, itemId),
		createComment,
		self.token,
		&Comment{},
		fmt.Sprintf("POST /api/items/%s/comments", itemId),
		NewNoopApiCallback[*Comment](),
	)
}

type DeleteCommentCallback apiCallback[*DeleteCommentResult]

type DeleteCommentResult struct {
	Deleted bool `json:"deleted,omitempty"`
}

func (self *Api) DeleteComment(itemId string, commentId string, callback DeleteCommentCallback) {
	go request(
		self.ctx,
		"DELETE",
		fmt.Sprintf("%s/api/items/%s/comments/%s", self.apiUrl, itemId, commentId),
		nil,
		self.token,
		&DeleteCommentResult{},
		fmt.Sprintf("DELETE /api/items/%s/comments/%s", itemId, commentId),
		callback,
	)
}

func (self *Api) DeleteCommentSync(itemId string, commentId string) (*DeleteCommentResult, error) {
	return request(
		self.ctx,
		"DELETE",
		fmt.Sprintf("%s/api/items/%s/comments/%s", self.apiUrl, itemId, commentId),
		nil,
		self.token,
		&DeleteCommentResult{},
		fmt.Sprintf("DELETE /api/items/%s/comments/%s", itemId, commentId),
		NewNoopApiCallback[*DeleteCommentResult](),
	)
}

type AuthRegisterCallback apiCallback[*AuthRegisterResult]

type AuthRegisterArgs struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type AuthRegisterResult struct {
	Email string `json:"email,omitempty"`
}

func (self *Api) AuthRegister(authRegister *AuthRegisterArgs, callback AuthRegisterCallback) {
	go request(
		self.ctx,
		"POST",
		fmt.Sprintf("%s/api/auth/register", self.apiUrl),
		authRegister,
		self.token,
		&AuthRegisterResult{},
		"POST /api/auth/register",
		callback,
	)
}

func (self *Api) AuthRegisterSync(authRegister *AuthRegisterArgs) (*AuthRegisterResult, error) {
	return request(
		self.ctx,
		"POST",
		fmt.Sprintf("%s/api/auth/register", self.apiUrl),
		authRegister,
		self.token,
		&AuthRegisterResult{},
		"POST /api/auth/register",
		NewNoopApiCallback[*AuthRegisterResult](),
	)
}

type AuthLoginCallback apiCallback[*AuthLoginResult]

type AuthLoginArgs struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type AuthLoginResult struct {
	Token string `json:"token"`
}

func (self *Api) AuthLogin(authLogin *AuthLoginArgs, callback AuthLoginCallback) {
	go request(
		self.ctx,
		"POST",
		fmt.Sprintf("%s/api/auth/login", self.apiUrl),
		authLogin,
		self.token,
		&AuthLoginResult{},
		"POST /api/auth/login",
		callback,
	)
}

func (self *Api) AuthLoginSync(authLogin *AuthLoginArgs) (*AuthLoginResult, error) {
	return request(
		self.ctx,
		"POST",
		fmt.Sprintf("%s/api/auth/login", self.apiUrl),
		authLogin,
		self.token,
		&AuthLoginResult{},
		"POST /api/auth/login",
		NewNoopApiCallback[*AuthLoginResult](),
	)
}

func request[R any](
	ctx context.Context,
	method string,
	url string,
	args any,
	token string,
	result R,
	op string,
	callback apiCallback[R],
) (R, error) {
	var requestBodyBytes []byte
	if args == nil {
		requestBodyBytes = make([]byte, 0)
	} else {
		var err error
		requestBodyBytes, err = json.Marshal(args)
		if err != nil {
			var empty R
			callback.Result(empty, err)
			return empty, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(requestBodyBytes))
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	req.Header.Add("Content-Type", "application/json")

	if token != "" {
		auth := fmt.Sprintf("Bearer %s", token)
		req.Header.Add("Authorization", auth)
	}

	client := defaultClient()
	r, err := client.Do(req)
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}
	defer r.Body.Close()

	responseBodyBytes, err := io.ReadAll(r.Body)

	if r.StatusCode < 200 || 300 <= r.StatusCode {
		err = &HttpError{
			Status: r.StatusCode,
			Op:     op,
		}
		callback.Result(result, err)
		return result, err
	}

	if err != nil {
		callback.Result(result, err)
		return result, err
	}

	if 0 < len(strings.TrimSpace(string(responseBodyBytes))) {
		err = json.Unmarshal(responseBodyBytes, &result)
		if err != nil {
			var empty R
			callback.Result(empty, err)
			return empty, err
		}
	}

	callback.Result(result, nil)
	return result, nil
}
