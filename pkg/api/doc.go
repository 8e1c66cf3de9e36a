/*
Package api exposes the issuer service over HTTP.

Routes:

	POST /issuers/{id}/credentials/issue    issue a credential (201)
	POST /issuers/{id}/credentials/status   update a credential's status (200)
	POST /issuers/{id}/slcs/{slcID}/publish republish a status list (204)
	GET  /issuers/{id}/slcs/{slcID}         fetch a status list credential (200)
	GET  /healthz                           liveness probe
	GET  /metrics                           Prometheus metrics

Allocator capacity exhaustion maps to 503; missing issuers, credentials and
lists map to 404; malformed requests to 400. CAS conflicts and index
collisions never surface here — the service retries them internally.
*/
package api
