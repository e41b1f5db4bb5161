package handlers

import (
	"fmt"
	"net/http"
)

type routeInfo struct {
	RoutePath    string `json:"route_path"`
	Title        string `json:"title,omitempty"`
	TerminalPath string `json:"terminal_path"`
	HTTPEndpoint string `json:"http_endpoint,omitempty"`
	WSEndpoint   string `json:"ws_endpoint,omitempty"`
	Port         int    `json:"port"`
	Dynamic      bool   `json:"dynamic,omitempty"`
}

type routesInfoResponse struct {
	Routes        []routeInfo `json:"routes"`
	MountPath     string      `json:"mount_path"`
	IsRootMounted bool        `json:"is_root_mounted"`
}

// RoutesInfo reports each route's endpoints and backend target, intended
// for introspection and monitoring UIs.
func (a *API) RoutesInfo(w http.ResponseWriter, r *http.Request) {
	resp := routesInfoResponse{
		MountPath:     a.Table.MountPath(),
		IsRootMounted: a.Table.IsRootMounted(),
	}
	for _, cfg := range a.Table.Routes() {
		info := routeInfo{
			RoutePath:    cfg.RoutePath,
			Title:        cfg.Title,
			TerminalPath: a.Table.TerminalPath(cfg),
			Port:         cfg.Port,
			Dynamic:      cfg.Dynamic,
		}
		if target, err := a.Table.TargetFor(cfg); err == nil {
			info.HTTPEndpoint = fmt.Sprintf("http://%s", target.Addr())
			info.WSEndpoint = fmt.Sprintf("ws://%s/ws", target.Addr())
		}
		resp.Routes = append(resp.Routes, info)
	}
	writeJSON(w, http.StatusOK, resp)
}
