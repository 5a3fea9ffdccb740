package nakama

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/form3tech-oss/jwt-go"
	"github.com/go-chi/chi/v5"
	"github.com/heroiclabs/nakama-common/api"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

const testServerKey = "defaultkey"

type storedObject struct {
	value     string
	permRead  int32
	permWrite int32
}

// fakeNakama emulates the REST gateway endpoints the client uses.
type fakeNakama struct {
	t *testing.T

	mu        sync.Mutex
	devices   map[string]string // device id -> user id
	usernames map[string]string // user id -> username
	objects   map[string]storedObject
	rpcs      map[string]func(userID string, payload []byte) (string, int)
	rpcCalls  map[string][]string
	reads     int
}

func newFakeNakama(t *testing.T) (*fakeNakama, *httptest.Server) {
	t.Helper()
	f := &fakeNakama{
		t:         t,
		devices:   map[string]string{},
		usernames: map[string]string{},
		objects:   map[string]storedObject{},
		rpcs:      map[string]func(string, []byte) (string, int){},
		rpcCalls:  map[string][]string{},
	}

	r := chi.NewRouter()
	r.Post("/v2/account/authenticate/device", f.authenticateDevice)
	r.Post("/v2/rpc/{id}", f.rpc)
	r.Put("/v2/storage", f.writeStorage)
	r.Post("/v2/storage", f.readStorage)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return f, srv
}

func endpointFor(t *testing.T, srv *httptest.Server) Endpoint {
	t.Helper()
	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parse server url: %v", err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatalf("parse server port: %v", err)
	}
	return Endpoint{Host: u.Hostname(), Port: port, ServerKey: testServerKey}
}

func signToken(t *testing.T, userID, username string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"uid": userID,
		"usn": username,
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func writeError(w http.ResponseWriter, status, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": message, "code": code, "message": message})
}

func writeProto(w http.ResponseWriter, msg proto.Message) {
	body, _ := protojson.MarshalOptions{UseProtoNames: true}.Marshal(msg)
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}

func (f *fakeNakama) userFromBearer(r *http.Request) (string, bool) {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if len(h) <= len(prefix) || h[:len(prefix)] != prefix {
		return "", false
	}
	claims, err := parseSessionToken(h[len(prefix):])
	if err != nil {
		return "", false
	}
	return claims.UserID, true
}

func (f *fakeNakama) authenticateDevice(w http.ResponseWriter, r *http.Request) {
	key, _, ok := r.BasicAuth()
	if !ok || key != testServerKey {
		writeError(w, http.StatusUnauthorized, 16, "Server key invalid")
		return
	}
	body, _ := io.ReadAll(r.Body)
	in := &api.AccountDevice{}
	if err := protojson.Unmarshal(body, in); err != nil || in.GetId() == "" {
		writeError(w, http.StatusBadRequest, 3, "Device ID is required.")
		return
	}
	username := r.URL.Query().Get("username")
	for _, c := range username {
		if c == ' ' {
			writeError(w, http.StatusBadRequest, 3, "Username invalid, no spaces or control characters allowed.")
			return
		}
	}

	f.mu.Lock()
	userID, existed := f.devices[in.GetId()]
	if !existed {
		userID = fmt.Sprintf("user-%d", len(f.devices)+1)
		f.devices[in.GetId()] = userID
		f.usernames[userID] = username
	}
	stored := f.usernames[userID]
	f.mu.Unlock()

	writeProto(w, &api.Session{Created: !existed, Token: signToken(f.t, userID, stored)})
}

func (f *fakeNakama) rpc(w http.ResponseWriter, r *http.Request) {
	userID, ok := f.userFromBearer(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, 16, "Auth token invalid")
		return
	}
	id := chi.URLParam(r, "id")
	raw, _ := io.ReadAll(r.Body)
	var payload string
	if err := json.Unmarshal(raw, &payload); err != nil {
		writeError(w, http.StatusBadRequest, 3, "Unable to unmarshal payload")
		return
	}

	f.mu.Lock()
	handler, found := f.rpcs[id]
	f.rpcCalls[id] = append(f.rpcCalls[id], payload)
	f.mu.Unlock()
	if !found {
		writeError(w, http.StatusNotFound, 5, "RPC function not found")
		return
	}
	out, code := handler(userID, []byte(payload))
	if code != 0 {
		writeError(w, http.StatusInternalServerError, code, out)
		return
	}
	writeProto(w, &api.Rpc{Id: id, Payload: out})
}

func objectKey(collection, key, userID string) string {
	return collection + "/" + key + "/" + userID
}

func (f *fakeNakama) writeStorage(w http.ResponseWriter, r *http.Request) {
	userID, ok := f.userFromBearer(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, 16, "Auth token invalid")
		return
	}
	body, _ := io.ReadAll(r.Body)
	in := &api.WriteStorageObjectsRequest{}
	if err := protojson.Unmarshal(body, in); err != nil {
		writeError(w, http.StatusBadRequest, 3, err.Error())
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	acks := &api.StorageObjectAcks{}
	for _, obj := range in.GetObjects() {
		k := objectKey(obj.GetCollection(), obj.GetKey(), userID)
		if _, exists := f.objects[k]; exists && obj.GetVersion() == "*" {
			writeError(w, http.StatusBadRequest, 3, "Storage write rejected - version check failed.")
			return
		}
		f.objects[k] = storedObject{
			value:     obj.GetValue(),
			permRead:  obj.GetPermissionRead().GetValue(),
			permWrite: obj.GetPermissionWrite().GetValue(),
		}
		acks.Acks = append(acks.Acks, &api.StorageObjectAck{Collection: obj.GetCollection(), Key: obj.GetKey(), UserId: userID, Version: "v1"})
	}
	writeProto(w, acks)
}

func (f *fakeNakama) readStorage(w http.ResponseWriter, r *http.Request) {
	caller, ok := f.userFromBearer(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, 16, "Auth token invalid")
		return
	}
	body, _ := io.ReadAll(r.Body)
	in := &api.ReadStorageObjectsRequest{}
	if err := protojson.Unmarshal(body, in); err != nil {
		writeError(w, http.StatusBadRequest, 3, err.Error())
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	out := &api.StorageObjects{}
	for _, id := range in.GetObjectIds() {
		obj, exists := f.objects[objectKey(id.GetCollection(), id.GetKey(), id.GetUserId())]
		if !exists {
			continue
		}
		if id.GetUserId() != caller && obj.permRead != storagePermissionPublicRead {
			continue
		}
		out.Objects = append(out.Objects, &api.StorageObject{
			Collection: id.GetCollection(),
			Key:        id.GetKey(),
			UserId:     id.GetUserId(),
			Value:      obj.value,
			Version:    "v1",
		})
	}
	writeProto(w, out)
}
