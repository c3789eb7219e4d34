package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/hupe1980/svdag/codec"
	"github.com/hupe1980/svdag/model"
	"github.com/hupe1980/svdag/region"
)

var regionCodec string

// regionDump is the JSON view of a mapped region.
type regionDump struct {
	Path   string        `json:"path"`
	ID     string        `json:"id"`
	Layout region.Layout `json:"layout"`
	Header regionHeader  `json:"header"`
	Node   *nodeDump     `json:"node,omitempty"`
}

type regionHeader struct {
	RootKey    string `json:"root_key"`
	RootOffset uint64 `json:"root_offset"`
	Extent     uint32 `json:"extent"`
	Depth      uint32 `json:"depth"`
	Resident   uint64 `json:"resident"`
	Used       uint64 `json:"used"`
	Generation uint64 `json:"generation"`
}

type nodeDump struct {
	Key      string   `json:"key"`
	Kind     string   `json:"kind"`
	Attr     uint32   `json:"attr,omitempty"`
	Children []string `json:"children,omitempty"`
}

var regionCmd = &cobra.Command{
	Use:   "region [path] [key]",
	Short: "Dump the header of a shared region, and optionally one node",
	Long: `Region maps a region file read-only, the way a renderer does, and prints
its layout and published root as JSON. A hex node key as second argument
also prints that node if it is resident.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, ok := codec.ByName(regionCodec)
		if !ok {
			return fmt.Errorf("unknown codec %q", regionCodec)
		}

		r, err := region.OpenReader(args[0])
		if err != nil {
			return err
		}
		defer r.Close()

		h, err := r.Header()
		if err != nil {
			return err
		}
		dump := regionDump{
			Path:   args[0],
			ID:     r.ID().String(),
			Layout: r.Layout(),
			Header: regionHeader{
				RootKey:    h.RootKey.String(),
				RootOffset: uint64(h.RootOffset),
				Extent:     h.Extent,
				Depth:      h.Depth,
				Resident:   h.Resident,
				Used:       h.Used,
				Generation: h.Generation,
			},
		}

		if len(args) == 2 {
			k, err := strconv.ParseUint(args[1], 16, 64)
			if err != nil {
				return fmt.Errorf("node key %q: %w", args[1], err)
			}
			key := model.NodeKey(k)
			n, err := r.Node(key)
			if err != nil {
				return err
			}
			dump.Node = describeNode(key, n)
		}

		out, err := c.Marshal(dump)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(os.Stdout, string(out))
		return err
	},
}

func describeNode(key model.NodeKey, n model.Node) *nodeDump {
	d := &nodeDump{Key: key.String(), Kind: n.Kind.String()}
	if n.Kind == model.KindLeaf {
		d.Attr = uint32(n.Attr)
		return d
	}
	d.Children = make([]string, len(n.Children))
	for i, c := range n.Children {
		d.Children[i] = c.String()
	}
	return d
}

func init() {
	regionCmd.Flags().StringVar(&regionCodec, "codec", "segment-json", "Output codec (json, segment-json)")
	rootCmd.AddCommand(regionCmd)
}
