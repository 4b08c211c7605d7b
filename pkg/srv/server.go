/*
 Licensed under the Apache License, Version 2.0 (the "License");
 you may not use this file except in compliance with the License.
 You may obtain a copy of the License at

     https://www.apache.org/licenses/LICENSE-2.0

 Unless required by applicable law or agreed to in writing, software
 distributed under the License is distributed on an "AS IS" BASIS,
 WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 See the License for the specific language governing permissions and
 limitations under the License.
*/

// Package srv exposes persisted payloads over a small HTTP API.
package srv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/displaycap/go-trigger/pkg/config"
	"github.com/displaycap/go-trigger/pkg/log"
	"github.com/displaycap/go-trigger/pkg/state"
)

const ApiPort = config.DefaultApiPort

type ApiServer struct {
	context.Context
	config *config.Config
	store  *state.Store
	router *mux.Router
}

func NewApiServer(ctx context.Context, cfg *config.Config, store *state.Store) *ApiServer {
	s := &ApiServer{
		Context: ctx,
		config:  cfg,
		store:   store,
		router:  mux.NewRouter(),
	}
	s.configureRouter()
	return s
}

func (s *ApiServer) configureRouter() {
	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/payloads", s.handlePayloadList()).Methods("GET")
	api.HandleFunc("/payloads/{id:[0-9]+}", s.handlePayloadMeta()).Methods("GET")
	api.HandleFunc("/payloads/{id:[0-9]+}/data", s.handlePayloadData()).Methods("GET")
}

// Handler returns the routing tree with request logging wrapped around it.
func (s *ApiServer) Handler() http.Handler {
	return handlers.LoggingHandler(os.Stdout, s.router)
}

func (s *ApiServer) Run() error {
	addr := fmt.Sprintf("%s:%d", s.config.Api.Address, s.config.Api.Port)
	log.Info("Starting API server on %s", addr)
	httpServer := &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}
	return httpServer.ListenAndServe()
}

func (s *ApiServer) handlePayloadList() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		metas, err := s.store.List()
		if err != nil {
			s.error(w, http.StatusInternalServerError, err)
			return
		}
		if metas == nil {
			metas = []*state.PayloadMeta{}
		}
		s.respond(w, http.StatusOK, metas)
	}
}

func (s *ApiServer) handlePayloadMeta() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
		if err != nil {
			s.error(w, http.StatusBadRequest, err)
			return
		}
		meta, err := s.store.Meta(id)
		if err != nil {
			s.payloadError(w, err)
			return
		}
		s.respond(w, http.StatusOK, meta)
	}
}

func (s *ApiServer) handlePayloadData() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
		if err != nil {
			s.error(w, http.StatusBadRequest, err)
			return
		}
		_, data, err := s.store.Get(id)
		if err != nil {
			s.payloadError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		w.WriteHeader(http.StatusOK)
		w.Write(data)
	}
}

func (s *ApiServer) payloadError(w http.ResponseWriter, err error) {
	var notFound state.ErrPayloadNotFound
	if errors.As(err, &notFound) {
		s.error(w, http.StatusNotFound, err)
		return
	}
	s.error(w, http.StatusInternalServerError, err)
}

func (s *ApiServer) error(w http.ResponseWriter, code int, err error) {
	s.respond(w, code, map[string]string{"error": err.Error()})
}

func (s *ApiServer) respond(w http.ResponseWriter, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}
