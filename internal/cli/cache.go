package cli

import (
	"github.com/spf13/cobra"

	"upnpctl/internal/ssdp"
	"upnpctl/internal/storage"
	"upnpctl/internal/upnp"
)

// locations returns the location cache, or nil when it is disabled or the
// cache directory cannot be determined.
func (a *app) locations() *storage.Store {
	if a.opts.NoCache {
		return nil
	}
	if a.store == nil {
		path, err := storage.DefaultPath()
		if err != nil {
			a.log.Debug("location cache unavailable", "error", err)
			return nil
		}
		a.store = storage.New(path, storage.DefaultTTL)
	}
	return a.store
}

// rememberDevice records d, its services and its embedded devices.
func (a *app) rememberDevice(d *upnp.Device) {
	s := a.locations()
	if s == nil || d.DescriptionURL == nil {
		return
	}
	locs := deviceLocations(d, d.DescriptionURL.String(), nil)
	if err := s.Remember(locs...); err != nil {
		a.log.Debug("remember locations", "error", err)
	}
}

// deviceLocations flattens d's tree; embedded devices share the root's
// description document.
func deviceLocations(d *upnp.Device, loc string, acc []storage.Location) []storage.Location {
	acc = append(acc, storage.Location{USN: d.USN.String(), Location: loc, Type: d.DeviceType, Name: d.FriendlyName})
	for _, ref := range d.ServiceRefs {
		usn, err := ssdp.NewUSN(d.UUID(), ref.ServiceType)
		if err != nil {
			continue
		}
		acc = append(acc, storage.Location{USN: usn.String(), Location: loc, Type: ref.ServiceType, Name: d.FriendlyName})
	}
	for _, c := range d.Children {
		acc = deviceLocations(c, loc, acc)
	}
	return acc
}

func (a *app) rememberService(s upnp.ServiceObject) {
	st := a.locations()
	info := s.ServiceInfo()
	if st == nil || info.DescriptionURL == nil {
		return
	}
	loc := storage.Location{USN: info.USN.String(), Location: info.DescriptionURL.String(), Type: info.ServiceType()}
	if err := st.Remember(loc); err != nil {
		a.log.Debug("remember location", "error", err)
	}
}

func (a *app) rememberedLocation(usn ssdp.USN) string {
	s := a.locations()
	if s == nil {
		return ""
	}
	loc, ok := s.Lookup(usn.String())
	if !ok {
		return ""
	}
	return loc.Location
}

func (a *app) forgetLocation(usn ssdp.USN) {
	if s := a.locations(); s != nil {
		if err := s.Forget(usn.String()); err != nil {
			a.log.Debug("forget location", "usn", usn.String(), "error", err)
		}
	}
}

type locationView struct {
	USN      string `json:"usn"`
	Location string `json:"location"`
	Type     string `json:"type,omitempty"`
	Name     string `json:"name,omitempty"`
	SeenAt   string `json:"seenAt"`
}

func newCacheCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect the remembered description locations",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List remembered locations",
			Args:  argsBetween(0, 0),
			RunE: func(*cobra.Command, []string) error {
				s := a.locations()
				if s == nil {
					return UsageError{Msg: "location cache is disabled"}
				}
				locs, err := s.List()
				if err != nil {
					return err
				}
				return a.printLocations(locs)
			},
		},
		&cobra.Command{
			Use:   "forget <usn>...",
			Short: "Drop remembered locations",
			Args:  argsBetween(1, -1),
			RunE: func(_ *cobra.Command, args []string) error {
				s := a.locations()
				if s == nil {
					return UsageError{Msg: "location cache is disabled"}
				}
				for _, raw := range args {
					if err := s.Forget(raw); err != nil {
						return err
					}
				}
				a.out.Success("Forgot " + joinNonEmpty(", ", args...))
				return nil
			},
		},
	)
	return cmd
}

func (a *app) printLocations(locs []storage.Location) error {
	views := make([]locationView, 0, len(locs))
	for _, l := range locs {
		views = append(views, locationView{
			USN:      l.USN,
			Location: l.Location,
			Type:     l.Type,
			Name:     l.Name,
			SeenAt:   l.SeenAt.UTC().Format("2006-01-02T15:04:05Z"),
		})
	}
	if a.opts.JSON {
		return a.out.EmitJSON(map[string]any{"locations": views})
	}
	if len(views) == 0 {
		a.out.Warn("No remembered locations.")
		return nil
	}
	for _, v := range views {
		a.out.Print(v.USN)
		a.out.KV(2, "location", v.Location)
		a.out.KV(2, "name", v.Name)
	}
	return nil
}
