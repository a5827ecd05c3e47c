package main

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"sigaasync-backend/lib/scrapers/sigaa"
	"sigaasync-backend/services/extraction"
	"sigaasync-backend/services/matriculas"
)

type api struct {
	extraction *extraction.Service
	matriculas *matriculas.Service
}

func (a *api) router() http.Handler {
	router := gin.New()
	router.Use(gin.Recovery())

	router.POST("/api/scrape", a.scrape)
	router.GET("/api/extractions", a.listExtractions)
	router.GET("/api/extractions/latest", a.latestExtraction)
	router.GET("/api/extractions/:id", a.extractionDetails)
	router.GET("/api/extractions/:id/logs", a.extractionLogs)
	router.POST("/api/extractions/:id/cancel", a.cancelExtraction)
	router.POST("/api/extractions/:id/reprocess", a.reprocessExtraction)
	router.DELETE("/api/extractions/:id", a.deleteExtraction)

	if a.matriculas != nil {
		router.GET("/api/matriculas", a.listMatriculas)
		router.POST("/api/matriculas", a.addMatricula)
		router.PUT("/api/matriculas/:id", a.updateMatricula)
		router.DELETE("/api/matriculas/:id", a.deleteMatricula)
		router.POST("/api/matriculas/import", a.importMatriculas)
	}

	return router
}

type scrapeRequest struct {
	Year     string `json:"year"`
	Semester string `json:"semester"`
	Username string `json:"username"`
	Password string `json:"password"`
	Visible  bool   `json:"visible"`
}

type scrapeFinalResult struct {
	Success   bool        `json:"success"`
	Cancelled bool        `json:"cancelled,omitempty"`
	Data      []sigaa.Row `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
}

// scrape runs an extraction and streams progress as newline-delimited JSON:
// {"log": ...} lines, one {"extractionId": N} event and a closing
// {"finalResult": {...}} event.
func (a *api) scrape(c *gin.Context) {
	var req scrapeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "corpo da requisição inválido"})
		return
	}

	c.Header("Content-Type", "application/x-ndjson; charset=utf-8")
	c.Header("Cache-Control", "no-cache")
	c.Status(http.StatusOK)

	emit := func(event interface{}) {
		data, err := json.Marshal(event)
		if err != nil {
			return
		}
		c.Writer.Write(append(data, '\n'))
		c.Writer.Flush()
	}

	outcome, err := a.extraction.Run(c.Request.Context(), extraction.RunRequest{
		Year:     req.Year,
		Semester: req.Semester,
		Username: req.Username,
		Password: req.Password,
		Visible:  req.Visible,
	}, extraction.Events{
		Log: func(line string) {
			emit(gin.H{"log": line})
		},
		Created: func(extractionID int64) {
			emit(gin.H{"extractionId": extractionID})
		},
	})

	final := scrapeFinalResult{}
	switch {
	case err != nil:
		final.Error = err.Error()
	case outcome.Cancelled:
		final.Cancelled = true
	default:
		final.Success = true
		final.Data = outcome.Rows
	}
	emit(gin.H{"finalResult": final})
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id inválido"})
		return 0, false
	}
	return id, true
}

func (a *api) listExtractions(c *gin.Context) {
	items, err := a.extraction.History(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"extractions": items})
}

func (a *api) latestExtraction(c *gin.Context) {
	year, err := strconv.ParseInt(c.Query("year"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "ano inválido"})
		return
	}
	semester, err := strconv.ParseInt(c.Query("semester"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "período inválido"})
		return
	}
	item, err := a.extraction.LatestCompleted(c.Request.Context(), year, semester)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "nenhuma extração concluída encontrada"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"extraction": item})
}

func (a *api) extractionDetails(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	item, files, err := a.extraction.Details(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "extração não encontrada"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"extraction": item, "files": files})
}

func (a *api) extractionLogs(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	logs, err := a.extraction.Logs(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs})
}

func (a *api) cancelExtraction(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := a.extraction.Cancel(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Sinal de cancelamento enviado."})
}

func (a *api) reprocessExtraction(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	files, err := a.extraction.Reprocess(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	filenames := make([]string, 0, len(files))
	for _, file := range files {
		filenames = append(filenames, file.Filename)
	}
	c.JSON(http.StatusOK, gin.H{"message": "Reprocessamento concluído.", "files": filenames})
}

func (a *api) deleteExtraction(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := a.extraction.Delete(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Extração excluída com sucesso."})
}

func (a *api) listMatriculas(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(c.DefaultQuery("perPage", "10"))
	items, total, err := a.matriculas.List(c.Request.Context(), page, perPage, c.Query("search"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"matriculas": items, "total": total})
}

func (a *api) addMatricula(c *gin.Context) {
	var params matriculas.AddParams
	if err := c.ShouldBindJSON(&params); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "corpo da requisição inválido"})
		return
	}
	if err := a.matriculas.Add(c.Request.Context(), params); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Matrícula cadastrada com sucesso."})
}

func (a *api) updateMatricula(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var params matriculas.AddParams
	if err := c.ShouldBindJSON(&params); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "corpo da requisição inválido"})
		return
	}
	if err := a.matriculas.Update(c.Request.Context(), id, params); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Matrícula atualizada com sucesso."})
}

func (a *api) deleteMatricula(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := a.matriculas.Delete(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Matrícula excluída com sucesso."})
}

type importRequest struct {
	Content string `json:"content"`
}

func (a *api) importMatriculas(c *gin.Context) {
	var req importRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Content == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "conteúdo do arquivo é obrigatório"})
		return
	}
	result, err := a.matriculas.ImportCSV(c.Request.Context(), req.Content)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}
