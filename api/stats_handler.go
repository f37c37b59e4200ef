package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (a *API) stats(c *gin.Context) {
	st, err := a.eng.Stats(c.Request.Context())
	if err != nil {
		a.writeError(c, err, "")
		return
	}

	counts := make(map[string]int64, len(st.Counts))
	for status, n := range st.Counts {
		counts[string(status)] = n
	}
	c.JSON(http.StatusOK, StatsResponse{
		Total:  st.Total,
		Counts: counts,
		Queue: QueueDepth{
			Ready:   st.Ready,
			Delayed: st.Delayed,
			Leased:  st.Leased,
		},
	})
}
