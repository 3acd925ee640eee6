package web

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/RezaEskandarii/gofire-cluster/custom_errors"
	"github.com/RezaEskandarii/gofire-cluster/types"
	"github.com/gin-gonic/gin"
)

const PageSize = 15

// jobRequest is the JSON form of a job; durations are in milliseconds.
type jobRequest struct {
	Group              string         `json:"group"`
	Name               string         `json:"name"`
	JobType            string         `json:"job_type"`
	Description        string         `json:"description"`
	Durable            bool           `json:"durable"`
	DisallowConcurrent bool           `json:"disallow_concurrent"`
	TimeoutMs          int64          `json:"timeout_ms"`
	Data               map[string]any `json:"data"`
}

func (r jobRequest) toJob() types.Job {
	return types.Job{
		Key:                types.NewJobKey(r.Group, r.Name),
		JobType:            r.JobType,
		Description:        r.Description,
		Durable:            r.Durable,
		DisallowConcurrent: r.DisallowConcurrent,
		Timeout:            time.Duration(r.TimeoutMs) * time.Millisecond,
		Data:               r.Data,
	}
}

type triggerRequest struct {
	Group         string     `json:"group"`
	Name          string     `json:"name"`
	JobGroup      string     `json:"job_group"`
	JobName       string     `json:"job_name"`
	Description   string     `json:"description"`
	Schedule      string     `json:"schedule"`
	StartTime     *time.Time `json:"start_time"`
	EndTime       *time.Time `json:"end_time"`
	MisfirePolicy string     `json:"misfire_policy"`
}

func (r triggerRequest) toTrigger() types.Trigger {
	t := types.Trigger{
		Key:           types.NewTriggerKey(r.Group, r.Name),
		Description:   r.Description,
		Schedule:      r.Schedule,
		EndTime:       r.EndTime,
		MisfirePolicy: types.MisfirePolicy(r.MisfirePolicy),
	}
	if r.JobName != "" {
		t.JobKey = types.NewJobKey(r.JobGroup, r.JobName)
	}
	if r.StartTime != nil {
		t.StartTime = *r.StartTime
	}
	return t
}

type scheduleRequest struct {
	Job     jobRequest     `json:"job"`
	Trigger triggerRequest `json:"trigger"`
}

func getPageNumber(c *gin.Context) int {
	pageNumber, err := strconv.Atoi(c.Query("page"))
	if err != nil || pageNumber < 1 {
		pageNumber = 1
	}
	return pageNumber
}

func jobKeyParam(c *gin.Context) types.JobKey {
	return types.NewJobKey(c.Param("group"), c.Param("name"))
}

func triggerKeyParam(c *gin.Context) types.TriggerKey {
	return types.NewTriggerKey(c.Param("group"), c.Param("name"))
}

// writeError maps store and validation errors to HTTP statuses.
func writeError(c *gin.Context, err error) {
	var validation *custom_errors.ValidationError
	switch {
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, validation)
	case errors.Is(err, custom_errors.ErrJobNotFound), errors.Is(err, custom_errors.ErrTriggerNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case custom_errors.IsTransient(err):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func printBanner(addr string) {
	width := 46
	fmt.Println("##############################################")
	fmt.Printf("# %-*s #\n", width-4, "")
	fmt.Printf("# %-*s #\n", width-4, "GoFire cluster admin API started")
	fmt.Printf("# %-*s #\n", width-4, fmt.Sprintf("Listening on %s", addr))
	fmt.Printf("# %-*s #\n", width-4, "")
	fmt.Println("##############################################")
}
