package upnp

import (
	"context"
	"strconv"

	"upnpctl/internal/didl"
	"upnpctl/internal/soap"
	"upnpctl/internal/upnperr"
)

const (
	BrowseMetadata       = "BrowseMetadata"
	BrowseDirectChildren = "BrowseDirectChildren"
)

// ContentDirectory is urn:schemas-upnp-org:service:ContentDirectory:1.
type ContentDirectory struct {
	*Service
}

type BrowseRequest struct {
	ObjectID   string
	BrowseFlag string // BrowseDirectChildren when empty
	Filter     string // "*" when empty
	// StartingIndex and RequestedCount page the result; a count of 0 asks for everything.
	StartingIndex  int
	RequestedCount int
	SortCriteria   string
}

type SearchRequest struct {
	ContainerID    string
	SearchCriteria string
	Filter         string
	StartingIndex  int
	RequestedCount int
	SortCriteria   string
}

type BrowseResult struct {
	Objects        []didl.Content
	NumberReturned int
	TotalMatches   int
	UpdateID       string
}

func (c *ContentDirectory) GetSearchCapabilities(ctx context.Context) (string, error) {
	resp, err := c.Invoke(ctx, "GetSearchCapabilities")
	if err != nil {
		return "", err
	}
	return resp["SearchCaps"], nil
}

func (c *ContentDirectory) GetSortCapabilities(ctx context.Context) (string, error) {
	resp, err := c.Invoke(ctx, "GetSortCapabilities")
	if err != nil {
		return "", err
	}
	return resp["SortCaps"], nil
}

func (c *ContentDirectory) GetSystemUpdateID(ctx context.Context) (string, error) {
	resp, err := c.Invoke(ctx, "GetSystemUpdateID")
	if err != nil {
		return "", err
	}
	id, ok := resp["Id"]
	if !ok {
		return "", upnperr.Protocol("GetSystemUpdateID", "response missing Id")
	}
	return id, nil
}

func (c *ContentDirectory) Browse(ctx context.Context, req BrowseRequest) (BrowseResult, error) {
	if req.BrowseFlag == "" {
		req.BrowseFlag = BrowseDirectChildren
	}
	if req.Filter == "" {
		req.Filter = "*"
	}
	resp, err := c.Invoke(ctx, "Browse",
		soap.Arg{Name: "ObjectID", Value: req.ObjectID},
		soap.Arg{Name: "BrowseFlag", Value: req.BrowseFlag},
		soap.Arg{Name: "Filter", Value: req.Filter},
		soap.Arg{Name: "StartingIndex", Value: strconv.Itoa(req.StartingIndex)},
		soap.Arg{Name: "RequestedCount", Value: strconv.Itoa(req.RequestedCount)},
		soap.Arg{Name: "SortCriteria", Value: req.SortCriteria},
	)
	if err != nil {
		return BrowseResult{}, err
	}
	return browseResult("Browse", resp)
}

// Search is optional in ContentDirectory:1; it fails with an
// *upnperr.UnsupportedActionError when the SCPD does not list it.
func (c *ContentDirectory) Search(ctx context.Context, req SearchRequest) (BrowseResult, error) {
	if req.Filter == "" {
		req.Filter = "*"
	}
	resp, err := c.InvokeOptional(ctx, "Search",
		soap.Arg{Name: "ContainerID", Value: req.ContainerID},
		soap.Arg{Name: "SearchCriteria", Value: req.SearchCriteria},
		soap.Arg{Name: "Filter", Value: req.Filter},
		soap.Arg{Name: "StartingIndex", Value: strconv.Itoa(req.StartingIndex)},
		soap.Arg{Name: "RequestedCount", Value: strconv.Itoa(req.RequestedCount)},
		soap.Arg{Name: "SortCriteria", Value: req.SortCriteria},
	)
	if err != nil {
		return BrowseResult{}, err
	}
	return browseResult("Search", resp)
}

// CreateObject creates elements (a DIDL-Lite fragment) under containerID.
func (c *ContentDirectory) CreateObject(ctx context.Context, containerID, elements string) (objectID string, result []didl.Content, err error) {
	resp, err := c.InvokeOptional(ctx, "CreateObject",
		soap.Arg{Name: "ContainerID", Value: containerID},
		soap.Arg{Name: "Elements", Value: elements},
	)
	if err != nil {
		return "", nil, err
	}
	objs, err := didl.Parse([]byte(resp["Result"]))
	if err != nil {
		return "", nil, upnperr.Protocol("CreateObject", "bad Result: %v", err)
	}
	return resp["ObjectID"], objs, nil
}

func (c *ContentDirectory) DestroyObject(ctx context.Context, objectID string) error {
	_, err := c.InvokeOptional(ctx, "DestroyObject", soap.Arg{Name: "ObjectID", Value: objectID})
	return err
}

func (c *ContentDirectory) UpdateObject(ctx context.Context, objectID, currentTagValue, newTagValue string) error {
	_, err := c.InvokeOptional(ctx, "UpdateObject",
		soap.Arg{Name: "ObjectID", Value: objectID},
		soap.Arg{Name: "CurrentTagValue", Value: currentTagValue},
		soap.Arg{Name: "NewTagValue", Value: newTagValue},
	)
	return err
}

func browseResult(op string, resp map[string]string) (BrowseResult, error) {
	objs, err := didl.Parse([]byte(resp["Result"]))
	if err != nil {
		return BrowseResult{}, upnperr.Protocol(op, "bad Result: %v", err)
	}
	out := BrowseResult{Objects: objs, UpdateID: resp["UpdateID"]}
	out.NumberReturned, _ = strconv.Atoi(resp["NumberReturned"])
	out.TotalMatches, _ = strconv.Atoi(resp["TotalMatches"])
	return out, nil
}
