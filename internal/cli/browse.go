package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"upnpctl/internal/ssdp"
	"upnpctl/internal/upnp"
)

type browseFlags struct {
	location string
	wait     time.Duration
	metadata bool
	search   string
	filter   string
	sort     string
	start    int
	count    int
}

func newBrowseCommand(a *app) *cobra.Command {
	var f browseFlags
	cmd := &cobra.Command{
		Use:   "browse <usn> [object-id]",
		Short: "List a ContentDirectory container (object 0 by default)",
		Args:  argsBetween(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			objectID := "0"
			if len(args) == 2 {
				objectID = args[1]
			}
			usn, err := serviceUSN(args[0], ssdp.ContentDirectory1)
			if err != nil {
				return err
			}
			cp, err := a.controlPoint([]string{usn.URN()})
			if err != nil {
				return err
			}
			defer closeControlPoint(cp)

			ctx := cmd.Context()
			svc, err := a.findService(ctx, cp, usn, f.location, f.wait)
			if err != nil {
				return err
			}
			cd, ok := svc.(*upnp.ContentDirectory)
			if !ok {
				return fmt.Errorf("%s is not a ContentDirectory service", usn)
			}

			var res upnp.BrowseResult
			if f.search != "" {
				res, err = cd.Search(ctx, upnp.SearchRequest{
					ContainerID:    objectID,
					SearchCriteria: f.search,
					Filter:         f.filter,
					StartingIndex:  f.start,
					RequestedCount: f.count,
					SortCriteria:   f.sort,
				})
			} else {
				flag := upnp.BrowseDirectChildren
				if f.metadata {
					flag = upnp.BrowseMetadata
				}
				res, err = cd.Browse(ctx, upnp.BrowseRequest{
					ObjectID:       objectID,
					BrowseFlag:     flag,
					Filter:         f.filter,
					StartingIndex:  f.start,
					RequestedCount: f.count,
					SortCriteria:   f.sort,
				})
			}
			if err != nil {
				return err
			}

			views := make([]contentView, 0, len(res.Objects))
			for _, o := range res.Objects {
				views = append(views, contentOf(o))
			}
			if a.opts.JSON {
				return a.out.EmitJSON(map[string]any{
					"objects":        views,
					"numberReturned": res.NumberReturned,
					"totalMatches":   res.TotalMatches,
					"updateID":       res.UpdateID,
				})
			}
			for _, v := range views {
				a.printContent(v)
			}
			a.out.Debug(fmt.Sprintf("%d of %d (update %s)", res.NumberReturned, res.TotalMatches, res.UpdateID))
			return nil
		},
	}
	fs := cmd.Flags()
	fs.StringVar(&f.location, "location", "", "Description URL; skips discovery")
	fs.DurationVar(&f.wait, "wait", 10*time.Second, "How long to wait for the service to be discovered")
	fs.BoolVar(&f.metadata, "metadata", false, "Show the object itself instead of its children")
	fs.StringVar(&f.search, "search", "", "Search criteria; uses the optional Search action")
	fs.StringVar(&f.filter, "filter", "*", "Property filter")
	fs.StringVar(&f.sort, "sort", "", "Sort criteria, e.g. +dc:title")
	fs.IntVar(&f.start, "start", 0, "Starting index")
	fs.IntVar(&f.count, "count", 0, "Requested count (0 = all)")
	return cmd
}
