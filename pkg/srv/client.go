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

package srv

import (
	"fmt"

	"github.com/imroc/req"

	"github.com/displaycap/go-trigger/pkg/config"
	"github.com/displaycap/go-trigger/pkg/state"
)

type ApiClient struct {
	config *config.ApiConfig
}

func NewApiClient(cfg *config.ApiConfig) *ApiClient {
	return &ApiClient{config: cfg}
}

func (c *ApiClient) url(path string) string {
	return fmt.Sprintf("http://%s:%d/api%s", c.config.Address, c.config.Port, path)
}

func (c *ApiClient) get(path string) (*req.Resp, error) {
	r, err := req.Get(c.url(path))
	if err != nil {
		return nil, err
	}
	if code := r.Response().StatusCode; code != 200 {
		return nil, fmt.Errorf("Api request %s failed with status %d", path, code)
	}
	return r, nil
}

func (c *ApiClient) Payloads() ([]*state.PayloadMeta, error) {
	r, err := c.get("/payloads")
	if err != nil {
		return nil, err
	}
	var metas []*state.PayloadMeta
	if err := r.ToJSON(&metas); err != nil {
		return nil, err
	}
	return metas, nil
}

func (c *ApiClient) Payload(id uint64) (*state.PayloadMeta, error) {
	r, err := c.get(fmt.Sprintf("/payloads/%d", id))
	if err != nil {
		return nil, err
	}
	meta := &state.PayloadMeta{}
	if err := r.ToJSON(meta); err != nil {
		return nil, err
	}
	return meta, nil
}

func (c *ApiClient) PayloadData(id uint64) ([]byte, error) {
	r, err := c.get(fmt.Sprintf("/payloads/%d/data", id))
	if err != nil {
		return nil, err
	}
	return r.ToBytes()
}
