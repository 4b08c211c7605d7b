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

package dissect

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/displaycap/go-trigger/pkg/capture"
	"github.com/displaycap/go-trigger/pkg/config"
	"github.com/displaycap/go-trigger/pkg/dissect"
	"github.com/displaycap/go-trigger/pkg/log"
	"github.com/displaycap/go-trigger/pkg/state"
	"github.com/displaycap/go-trigger/pkg/usb"
)

const (
	ProtocolOptionName = "protocol"
	DBOptionName       = "db"
	QuietOptionName    = "quiet"
)

// NewCommand creates the dissect command: run a usbmon pcap file through
// the classifier, print the decoded trees and persist reassembled
// payloads.
func NewCommand() *cobra.Command {
	var protocol, dbpath string
	var quiet bool
	cfg := config.NewDefaultConfig()
	cfg.Load()
	cmd := &cobra.Command{
		Use:   "dissect <capture.pcap>",
		Short: "Dissect a usbmon capture of a Trigger 5/6 adapter",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if dbpath == "" {
				dbpath = cfg.DBPath
			}
			return run(cmd.OutOrStdout(), cfg, args[0], protocol, dbpath, quiet)
		},
	}
	cmd.Flags().StringVar(&protocol, ProtocolOptionName, "",
		fmt.Sprintf("Force the protocol for every device, for captures without enumeration. One of: %s, %s",
			config.ProtocolTrigger5, config.ProtocolTrigger6))
	cmd.Flags().StringVar(&dbpath, DBOptionName, "", "Payload database path")
	cmd.Flags().BoolVar(&quiet, QuietOptionName, false, "Do not print packet trees, only persist payloads")
	return cmd
}

func run(out io.Writer, cfg *config.Config, path, protocol, dbpath string, quiet bool) error {
	if protocol != "" && protocol != config.ProtocolTrigger5 && protocol != config.ProtocolTrigger6 {
		return fmt.Errorf("Unknown protocol %s", protocol)
	}

	src, err := capture.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	store, err := state.NewStore(context.Background(), dbpath)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := dissect.NewContext(cfg)
	if protocol != "" {
		ctx.ForceProtocol(protocol)
	}

	var packets, payloads int
	for {
		p, err := src.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		packets++

		result, err := ctx.ClassifyFirstPass(p)
		if err != nil {
			var notHandled dissect.ErrNotHandled
			if errors.As(err, &notHandled) {
				continue
			}
			return err
		}

		if !quiet {
			fmt.Fprintf(out, "--- packet %d (%s %s)\n%s", p.ID, p.Type, p.Conversation(), result.Tree)
		}

		if result.Payload != nil {
			payloads++
			if err := persist(store, ctx, p, result); err != nil {
				return err
			}
		}
	}

	log.Info("Dissected %d packets, %d payloads persisted to %s", packets, payloads, dbpath)
	return nil
}

func persist(store *state.Store, ctx *dissect.Context, p *usb.Packet, result *dissect.Result) error {
	sel := result.Selector
	meta := &state.PayloadMeta{
		ID:           sel.Origin,
		Protocol:     ctx.DeviceProtocol(p.Bus, p.Device),
		Bus:          p.Bus,
		Device:       p.Device,
		Endpoint:     p.Endpoint,
		Session:      sel.Label(),
		Declared:     sel.PayloadLength,
		Complete:     result.Payload.Complete,
		GapOffset:    result.Payload.GapOffset,
		Conflict:     result.Payload.Conflict,
		Contributors: result.Payload.Contributors,
	}
	return store.Put(meta, result.Payload.Data)
}
