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

package export

import (
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"

	"github.com/displaycap/go-trigger/pkg/config"
	"github.com/displaycap/go-trigger/pkg/log"
	"github.com/displaycap/go-trigger/pkg/srv"
)

const (
	OutOptionName = "out"
	DirOptionName = "dir"
)

// NewCommand creates the export command: inspect and extract payloads
// from a running serve instance.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "List and extract payloads from a running serve instance",
	}
	cmd.AddCommand(newListCommand())
	cmd.AddCommand(newGetCommand())
	cmd.AddCommand(newAllCommand())
	return cmd
}

func newListCommand() *cobra.Command {
	cfg := config.NewDefaultConfig()
	cfg.Load()
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List persisted payloads",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := srv.NewApiClient(cfg.Api)
			metas, err := client.Payloads()
			if err != nil {
				return err
			}
			data, err := yaml.Marshal(metas)
			if err != nil {
				return err
			}
			cmd.Print(string(data))
			return nil
		},
	}
	return cmd
}

func newGetCommand() *cobra.Command {
	var out string
	cfg := config.NewDefaultConfig()
	cfg.Load()
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Write the bytes of one payload to a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return err
			}
			client := srv.NewApiClient(cfg.Api)
			meta, err := client.Payload(id)
			if err != nil {
				return err
			}
			if !meta.Complete {
				log.Warning("Payload %d is incomplete, gap at offset %d", id, meta.GapOffset)
			}
			data, err := client.PayloadData(id)
			if err != nil {
				return err
			}
			if err := ioutil.WriteFile(out, data, 0644); err != nil {
				return err
			}
			log.Info("Wrote %d bytes to %s", len(data), out)
			return nil
		},
	}
	cmd.Flags().StringVar(&out, OutOptionName, "payload.bin", "Output file")
	return cmd
}

func newAllCommand() *cobra.Command {
	var dir string
	cfg := config.NewDefaultConfig()
	cfg.Load()
	cmd := &cobra.Command{
		Use:   "all",
		Short: "Write every payload to a directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := srv.NewApiClient(cfg.Api)
			metas, err := client.Payloads()
			if err != nil {
				return err
			}
			if err := os.MkdirAll(dir, 0755); err != nil {
				return err
			}
			for _, meta := range metas {
				if !meta.Complete {
					log.Warning("Payload %d is incomplete, gap at offset %d", meta.ID, meta.GapOffset)
				}
				data, err := client.PayloadData(meta.ID)
				if err != nil {
					return err
				}
				name := fmt.Sprintf("%s_%s_%d.bin", meta.Protocol, meta.Session, meta.ID)
				if err := ioutil.WriteFile(filepath.Join(dir, name), data, 0644); err != nil {
					return err
				}
			}
			log.Info("Wrote %d payloads to %s", len(metas), dir)
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, DirOptionName, "payloads", "Output directory")
	return cmd
}
